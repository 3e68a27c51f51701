package tenant

import (
	"fmt"

	"sweeper/pkg/domain"
	dErrors "sweeper/pkg/domain-errors"
)

// AuthenticationError aborts a login: the named tenant rejected the
// credentials, or the parent listed a child whose CID cannot be addressed.
type AuthenticationError struct {
	Tenant string
	CID    domain.CID
	Err    error

	invalidCID bool
}

func newAuthenticationError(name string, cid domain.CID) *AuthenticationError {
	msg := fmt.Sprintf("authentication rejected for tenant %q", name)
	if cid.IsParent() {
		msg = fmt.Sprintf("authentication rejected for parent tenant %q", name)
	}
	return &AuthenticationError{
		Tenant: name,
		CID:    cid,
		Err:    dErrors.New(dErrors.CodeUnauthorized, msg),
	}
}

// newInvalidChildError reports a child the parent listed with a malformed CID.
// CID holds the value as listed.
func newInvalidChildError(name, raw string, cause error) *AuthenticationError {
	return &AuthenticationError{
		Tenant: name,
		CID:    domain.CID(raw),
		Err: &dErrors.Error{
			Code:    dErrors.CodeUnauthorized,
			Message: fmt.Sprintf("child tenant %q has an invalid cid %q", name, raw),
			Err:     cause,
		},
		invalidCID: true,
	}
}

func (e *AuthenticationError) Error() string {
	if e.invalidCID {
		return fmt.Sprintf("could not connect to tenant %q: invalid cid %q", e.Tenant, string(e.CID))
	}
	if e.CID.IsParent() {
		return fmt.Sprintf("could not connect to parent tenant %q: check API credentials", e.Tenant)
	}
	return fmt.Sprintf("could not connect to tenant %q with cid %s", e.Tenant, e.CID)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
