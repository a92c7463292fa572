package store

import (
	"encoding/json"
	"testing"
)

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		if err != nil || got != r {
			t.Errorf("ParseRole(%q) = %q, %v", r, got, err)
		}
	}
	for _, bad := range []string{"", "Owner", "superuser", " admin"} {
		if _, err := ParseRole(bad); err == nil {
			t.Errorf("ParseRole(%q): expected error", bad)
		}
	}
}

func TestRoleUnmarshalJSON(t *testing.T) {
	var body struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal([]byte(`{"role":"admin"}`), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Role != RoleAdmin {
		t.Errorf("role: got %q, want admin", body.Role)
	}
	if err := json.Unmarshal([]byte(`{"role":"root"}`), &body); err == nil {
		t.Error("expected error for unknown role")
	}
}
