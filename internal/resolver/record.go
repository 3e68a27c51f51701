package resolver

import (
	"fmt"

	"sweeper/pkg/domain"
)

// Kind names the type of a resolved record.
type Kind string

const (
	KindUser   Kind = "user"
	KindDevice Kind = "device"
)

// TenantTag records which tenant session produced a record. It is the only
// input Act needs to route an action back.
type TenantTag struct {
	Name string
	CID  domain.CID
}

// Record is a user or device as returned by the API, tagged with its tenant.
type Record struct {
	Kind   Kind
	Key    string
	Fields map[string]any
	Tenant *TenantTag
}

// String returns a field as a string, or "" when it is absent.
func (r *Record) String(field string) string {
	if r == nil {
		return ""
	}
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ID returns the identifier actions are issued against: the user UUID or the
// device ID.
func (r *Record) ID() string {
	switch r.Kind {
	case KindUser:
		return r.String("uuid")
	case KindDevice:
		return r.String("device_id")
	default:
		return ""
	}
}

// TenantName returns the owning tenant's name, or "" when untagged.
func (r *Record) TenantName() string {
	if r == nil || r.Tenant == nil {
		return ""
	}
	return r.Tenant.Name
}
