package tenant

import (
	"sweeper/internal/falcon"
	"sweeper/pkg/domain"
)

// Credentials authenticate one tenant session. The same client ID and secret
// serve every tenant; only MemberCID differs.
type Credentials struct {
	ClientID     string
	ClientSecret string
	VerifyTLS    bool
	Debug        bool
	MemberCID    domain.CID
}

// CredentialOption adjusts the base credentials stored by Configure.
type CredentialOption func(*Credentials)

func WithTLSVerify(verify bool) CredentialOption {
	return func(c *Credentials) {
		c.VerifyTLS = verify
	}
}

func WithDebug(debug bool) CredentialOption {
	return func(c *Credentials) {
		c.Debug = debug
	}
}

// Derive returns base scoped to cid. base is passed by value and never
// modified.
func Derive(base Credentials, cid domain.CID) Credentials {
	base.MemberCID = cid
	return base
}

// Auth converts the credentials to the transport's form.
func (c Credentials) Auth() falcon.Auth {
	return falcon.Auth{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		MemberCID:    c.MemberCID.String(),
		VerifyTLS:    c.VerifyTLS,
		Debug:        c.Debug,
	}
}
