package store

import "fmt"

// Role is a member's role within a group. The set is closed.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Roles lists every valid role.
var Roles = []Role{RoleOwner, RoleAdmin, RoleMember}

// ParseRole converts s into a Role, rejecting anything outside the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// IsValid reports whether r is one of the defined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// UnmarshalText rejects unknown roles during decoding.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
