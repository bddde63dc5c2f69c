package auth

import "testing"

func TestNormalizeRole_CaseAndWhitespace(t *testing.T) {
	cases := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"viewer", RoleViewer, true},
		{"Operator", RoleOperator, true},
		{" ADMIN ", RoleAdmin, true},
		{"superuser", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeRole(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("NormalizeRole(%q) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestRoleAtLeast_UnknownRoleSatisfiesNothing(t *testing.T) {
	if !RoleAtLeast(RoleAdmin, RoleOperator) {
		t.Fatalf("expected admin to satisfy operator")
	}
	if RoleAtLeast(RoleViewer, RoleOperator) {
		t.Fatalf("expected viewer below operator")
	}
	if RoleAtLeast(Role("superuser"), RoleViewer) {
		t.Fatalf("expected unknown role to satisfy nothing")
	}
}
