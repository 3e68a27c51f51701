// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	dErrors "sweeper/pkg/domain-errors"
)

// CID is a Falcon customer identifier. The zero value denotes the parent
// tenant, i.e. a session opened without a member_cid.
type CID string

// ParentCID is the CID carried by the parent tenant's session and records.
const ParentCID CID = ""

// UserUUID identifies a Falcon console user.
type UserUUID uuid.UUID

// ParseCID normalizes a child CID as returned by the MSSP endpoints or typed by
// an operator. The optional "-XX" checksum suffix is dropped and the hex body
// lowercased.
func ParseCID(s string) (CID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ParentCID, dErrors.New(dErrors.CodeInvalidInput, "CID cannot be empty")
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(s)
	if len(s) != 32 {
		return ParentCID, dErrors.New(dErrors.CodeInvalidInput, "invalid CID format")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ParentCID, dErrors.New(dErrors.CodeInvalidInput, "invalid CID format")
	}
	return CID(s), nil
}

// ParseUserUUID validates a user identifier at a trust boundary. Nil UUIDs are
// rejected: a delete request must never be issued for them.
func ParseUserUUID(s string) (UserUUID, error) {
	if s == "" {
		return UserUUID(uuid.Nil), dErrors.New(dErrors.CodeInvalidInput, "user uuid cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return UserUUID(uuid.Nil), dErrors.New(dErrors.CodeInvalidInput, "invalid user uuid format")
	}
	if id == uuid.Nil {
		return UserUUID(uuid.Nil), dErrors.New(dErrors.CodeInvalidInput, "user uuid cannot be nil")
	}
	return UserUUID(id), nil
}

func (id CID) String() string      { return string(id) }
func (id UserUUID) String() string { return uuid.UUID(id).String() }

// IsParent reports whether the CID addresses the parent tenant.
func (id CID) IsParent() bool { return id == ParentCID }

func (id UserUUID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
