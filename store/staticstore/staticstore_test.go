package staticstore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cesanta/phpbb_auth/store"
	"github.com/cesanta/phpbb_auth/store/staticstore"
	"github.com/cesanta/phpbb_auth/store/storetest"
)

func TestConformance(t *testing.T) {
	s, err := staticstore.New(storetest.Fixture())
	if err != nil {
		t.Fatal(err)
	}
	storetest.RunConformance(t, s)
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "users.yml")
	contents := `
groups:
  - {id: 7, name: wiki}
users:
  - id: 42
    username: "Ａlice"
    password: "$H$9abcdefghPNK23y9v9h4RfTIXzN5ow0"
    groups: [wiki]
`
	if err := os.WriteFile(file, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	c := &store.Config{Backend: staticstore.BackendName, StaticFile: file}
	s, err := store.New(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.String(), file) {
		t.Errorf("String() = %s", s)
	}
}

func TestNewRejects(t *testing.T) {
	cases := []struct {
		d   *staticstore.Data
		err string
	}{
		{&staticstore.Data{Users: []*staticstore.User{{ID: 1, Username: "a"}, {ID: 1, Username: "b"}}}, "duplicate user id"},
		{&staticstore.Data{Users: []*staticstore.User{{ID: 1, Username: "A"}, {ID: 2, Username: "a"}}}, "duplicate clean username"},
		{&staticstore.Data{Users: []*staticstore.User{{ID: 1, Username: "a", Groups: []string{"x"}}}}, "unknown group"},
		{&staticstore.Data{Users: []*staticstore.User{{ID: 1, Username: "a", PendingGroups: []string{"x"}}}}, "unknown group"},
		{&staticstore.Data{Users: []*staticstore.User{{ID: 1, Username: "\xff"}}}, "malformed"},
	}
	for i, c := range cases {
		_, err := staticstore.New(c.d)
		if err == nil || !strings.Contains(err.Error(), c.err) {
			t.Errorf("%d: New() error = %v, expected %q", i, err, c.err)
		}
	}
}

func TestUserStringMasksPassword(t *testing.T) {
	u := staticstore.User{ID: 1, Username: "a", PasswordHash: "$2y$10$secret"}
	if s := u.String(); strings.Contains(s, "secret") {
		t.Errorf("User.String() leaks the hash: %s", s)
	}
}
