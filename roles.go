package auth

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is the closed set of application roles. The zero value is
// RoleUnknown, which callers treat as "absent".
type Role uint8

const (
	// RoleUnknown marks an absent or unrecognized role.
	RoleUnknown Role = iota
	// RoleUser is a visitor browsing listings.
	RoleUser
	// RoleOwner lists their own properties.
	RoleOwner
	// RoleCommunity is a community head managing a community's listings.
	RoleCommunity
	// RoleBroker lists properties on behalf of clients.
	RoleBroker
	// RoleAdmin reviews and verifies listings.
	RoleAdmin
)

var roleNames = [...]string{
	RoleUnknown:   "",
	RoleUser:      "user",
	RoleOwner:     "owner",
	RoleCommunity: "community",
	RoleBroker:    "broker",
	RoleAdmin:     "admin",
}

// String returns the wire name of the role, empty for RoleUnknown.
func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return ""
}

// IsValid checks if the role is one of the predefined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleOwner, RoleCommunity, RoleBroker, RoleAdmin:
		return true
	default:
		return false
	}
}

// ListsProperties reports roles that own listings and see their own pending items.
func (r Role) ListsProperties() bool {
	switch r {
	case RoleOwner, RoleCommunity, RoleBroker:
		return true
	default:
		return false
	}
}

// CanVerifyProperties reports whether the role may approve or reject listings.
func (r Role) CanVerifyProperties() bool {
	return r == RoleAdmin
}

// AllRoles returns every valid role.
func AllRoles() []Role {
	return []Role{RoleUser, RoleOwner, RoleCommunity, RoleBroker, RoleAdmin}
}

// SignupRoles returns the roles a person may pick for themselves.
func SignupRoles() []Role {
	return []Role{RoleUser, RoleOwner, RoleCommunity, RoleBroker}
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoleUnknown, false
	}
	for r, name := range roleNames {
		if name == s {
			return Role(r), true
		}
	}
	return RoleUnknown, false
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields
// RoleUnknown.
func (r *Role) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*r = RoleUnknown
		return nil
	}
	role, ok := ParseRole(string(text))
	if !ok {
		return fmt.Errorf("unknown role %q", string(text))
	}
	*r = role
	return nil
}

// Value implements driver.Valuer; roles are stored by name.
func (r Role) Value() (driver.Value, error) {
	if !r.IsValid() {
		return nil, nil
	}
	return r.String(), nil
}

// Scan implements sql.Scanner. Unrecognized names scan to RoleUnknown so a
// bad row degrades instead of failing the read.
func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = RoleUnknown
	case string:
		*r, _ = ParseRole(v)
	case []byte:
		*r, _ = ParseRole(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
	return nil
}
