package server

import (
	"testing"
)

func TestAtoRole(t *testing.T) {
	var table = []struct {
		input  string
		output Role
	}{
		{"read", RoleRead},
		{"Read", RoleRead},
		{"Write", RoleWrite},
		{"write", RoleWrite},
		{"admin", RoleAdmin},
		{"Admin", RoleAdmin},
		{"other", RoleUnknown},
	}

	for _, row := range table {
		result := atoRole(row.input)
		if result != row.output {
			t.Errorf("For %v received %v, expected %v", row.input, result, row.output)
		}
	}
}

func TestListDecoder(t *testing.T) {
	decoder, err := NewListDecoderString(`
		# comment line
		alice  admin  secret1
		bob    write  secret2

		badline with too many columns here
	`)
	if err != nil {
		t.Fatal(err)
	}
	var table = []struct {
		token string
		user  string
		role  Role
	}{
		{"secret1", "alice", RoleAdmin},
		{"secret2", "bob", RoleWrite},
		{"unknown", "", RoleUnknown},
		{"", "", RoleUnknown},
	}
	for _, row := range table {
		user, role, err := decoder.TokenDecode(row.token)
		if err != nil {
			t.Fatal(err)
		}
		if user != row.user || role != row.role {
			t.Errorf("For %q received (%q, %v), expected (%q, %v)",
				row.token, user, role, row.user, row.role)
		}
	}
}
