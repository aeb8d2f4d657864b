package authn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/authz"
	"github.com/cesanta/phpbb_auth/passwords"
	"github.com/cesanta/phpbb_auth/store"
	"github.com/cesanta/phpbb_auth/store/sqlstore"
	"github.com/cesanta/phpbb_auth/store/staticstore"
	"github.com/cesanta/phpbb_auth/store/storetest"
)

const (
	loginMessage = "You need a forum account to log in."
	noWikiError  = "Ask to join the wiki group on the forum."
)

var _ api.Authenticator = (*PhpBBAuth)(nil)

func testConfig() *PhpBBAuthConfig {
	return &PhpBBAuthConfig{
		GroupAuthzConfig: authz.GroupAuthzConfig{Enabled: true, Groups: []string{"wiki"}},
		LoginMessage:     loginMessage,
		NoWikiError:      noWikiError,
		QueryTimeout:     5 * time.Second,
	}
}

func newAuth(t *testing.T, c *PhpBBAuthConfig, s store.Store) *PhpBBAuth {
	t.Helper()
	if s == nil {
		var err error
		if s, err = staticstore.New(storetest.Fixture()); err != nil {
			t.Fatal(err)
		}
	}
	pa, err := NewPhpBBAuth(c, s)
	if err != nil {
		t.Fatal(err)
	}
	return pa
}

func TestAuthenticateBcrypt(t *testing.T) {
	h, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	d := storetest.Fixture()
	d.Users[0].PasswordHash = string(h)
	s, err := staticstore.New(d)
	if err != nil {
		t.Fatal(err)
	}
	pa := newAuth(t, testConfig(), s)
	r, err := pa.Authenticate(context.Background(), "alice", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	expected := api.Result{
		Accepted: true,
		UserID:   42,
		Username: "Alice",
		Email:    "alice@example.com",
		RealName: api.RealNamePlaceholder,
	}
	if *r != expected {
		t.Errorf("Authenticate = %+v, expected %+v", r, expected)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	pa := newAuth(t, testConfig(), nil)
	cases := []struct {
		user, password string
		reason         error
		message        string
	}{
		{"alice", "wrong", api.WrongPass, loginMessage},
		{"alice", "", api.WrongPass, loginMessage},
		{"nobody", "secret123", api.NoMatch, loginMessage},
		{"", "secret123", api.NoMatch, loginMessage},
		{"ali\xffce", "secret123", api.NoMatch, loginMessage},
		{"ivan", "secret123", api.NoMatch, loginMessage},       // inactive
		{"bob", "secret123", api.NotAuthorized, noWikiError},   // pending
		{"carol", "secret123", api.NotAuthorized, noWikiError}, // other group
		{"Carol Wiki", "secret123", api.NoMatch, loginMessage}, // profiles off
	}
	for i, c := range cases {
		r, err := pa.Authenticate(context.Background(), c.user, api.PasswordString(c.password))
		if err != nil {
			t.Errorf("%d: unexpected error %s", i, err)
			continue
		}
		if r.Accepted || !errors.Is(r.Reason, c.reason) || r.Message != c.message {
			t.Errorf("%d: Authenticate(%q) = %+v, expected rejection for %v", i, c.user, r, c.reason)
		}
		if r.UserID != 0 || r.Username != "" || r.Email != "" {
			t.Errorf("%d: rejected result leaks identity: %+v", i, r)
		}
	}
}

func TestUnknownUserLooksLikeWrongPassword(t *testing.T) {
	pa := newAuth(t, testConfig(), nil)
	ctx := context.Background()
	unknown, err := pa.Authenticate(ctx, "nobody", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	wrong, err := pa.Authenticate(ctx, "alice", "nope")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(unknown)
	b, _ := json.Marshal(wrong)
	if string(a) != string(b) {
		t.Errorf("results differ: %s vs %s", a, b)
	}
}

func TestAuthenticateGroups(t *testing.T) {
	cases := []struct {
		groups authz.GroupAuthzConfig
		user   string
		ok     bool
	}{
		{authz.GroupAuthzConfig{Enabled: true, Groups: []string{"wiki", "editors"}}, "carol", true},
		{authz.GroupAuthzConfig{Enabled: true, Groups: []string{"no such group", "editors"}}, "carol", true},
		{authz.GroupAuthzConfig{Enabled: true, Groups: []string{"no such group"}}, "alice", false},
		{authz.GroupAuthzConfig{Enabled: false}, "bob", true},
		{authz.GroupAuthzConfig{Enabled: false}, "ivan", false},
	}
	for i, c := range cases {
		cfg := testConfig()
		cfg.GroupAuthzConfig = c.groups
		r, err := newAuth(t, cfg, nil).Authenticate(context.Background(), c.user, "secret123")
		if err != nil {
			t.Errorf("%d: unexpected error %s", i, err)
		} else if r.Accepted != c.ok {
			t.Errorf("%d: Authenticate(%q) = %+v, expected accepted=%t", i, c.user, r, c.ok)
		}
	}
}

func TestAuthenticateProfile(t *testing.T) {
	cfg := testConfig()
	cfg.UseWikiProfile = true
	cfg.Groups = []string{"wiki", "editors"}
	pa := newAuth(t, cfg, nil)
	for _, user := range []string{"Carol Wiki", "carol wiki", "carol"} {
		r, err := pa.Authenticate(context.Background(), user, "secret123")
		if err != nil {
			t.Fatal(err)
		}
		if !r.Accepted || r.UserID != 45 || r.Username != "Carol Wiki" {
			t.Errorf("Authenticate(%q) = %+v", user, r)
		}
	}
	r, err := pa.Authenticate(context.Background(), "alice", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Accepted || r.Username != "Alice" {
		t.Errorf("user without a profile: %+v", r)
	}
}

func TestAuthenticateAmbiguousProfile(t *testing.T) {
	cfg := testConfig()
	cfg.UseWikiProfile = true
	cfg.Enabled = false
	pa := newAuth(t, cfg, nil)
	r, err := pa.Authenticate(context.Background(), "twin", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	if r.Accepted || !errors.Is(r.Reason, api.AmbiguousIdentity) || r.Message != loginMessage {
		t.Errorf("Authenticate(twin) = %+v", r)
	}
	// The twins can still log in with their own usernames.
	r, err = pa.Authenticate(context.Background(), "twin one", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Accepted || r.Username != "Twin" {
		t.Errorf("Authenticate(twin one) = %+v", r)
	}
}

// countingVerifier records the hashes it was asked to check.
type countingVerifier struct {
	Verifier
	hashes []string
}

func (cv *countingVerifier) Check(password, hash string, subject passwords.Subject) bool {
	cv.hashes = append(cv.hashes, hash)
	return cv.Verifier.Check(password, hash, subject)
}

func TestRejectionsCheckAPassword(t *testing.T) {
	cfg := testConfig()
	cfg.UseWikiProfile = true
	pa := newAuth(t, cfg, nil)
	cases := []struct {
		user   string
		reason error
		hash   string
	}{
		{"nobody", api.NoMatch, dummyHash},
		{"", api.NoMatch, dummyHash},
		{"ivan", api.NoMatch, dummyHash},
		{"twin", api.AmbiguousIdentity, dummyHash},
		{"alice", api.WrongPass, storetest.SecretHash},
	}
	for _, c := range cases {
		cv := &countingVerifier{Verifier: pa.verifier}
		pa.verifier = cv
		r, err := pa.Authenticate(context.Background(), c.user, "wrong")
		pa.verifier = cv.Verifier
		if err != nil {
			t.Fatal(err)
		}
		if r.Accepted || !errors.Is(r.Reason, c.reason) {
			t.Errorf("%q: unexpected result %+v", c.user, r)
		}
		if len(cv.hashes) != 1 || cv.hashes[0] != c.hash {
			t.Errorf("%q: checked against %q, expected %q", c.user, cv.hashes, c.hash)
		}
	}
}

func TestDummyHashFollowsDrivers(t *testing.T) {
	for _, drivers := range [][]string{nil, {"bcrypt_2y"}, {"salted_md5", "phpass"}, {"sha1_smf"}} {
		cfg := testConfig()
		cfg.PasswordDrivers = drivers
		pm, err := passwords.NewManagerFor(drivers)
		if err != nil {
			t.Fatal(err)
		}
		pa := newAuth(t, cfg, nil)
		if pm.DriverFor(pa.dummyHash) == nil {
			t.Errorf("%v: dummy hash %q is not checked by any driver", drivers, pa.dummyHash)
		}
	}
}

func TestAuthenticateEveryHashFormat(t *testing.T) {
	m := passwords.NewManager(passwords.Drivers()...)
	for _, name := range m.Names() {
		h, err := m.Hash(name, "secret123", passwords.Subject{LoginName: "alice"})
		if err != nil {
			t.Fatalf("%s: %s", name, err)
		}
		d := storetest.Fixture()
		d.Users[0].PasswordHash = h
		s, err := staticstore.New(d)
		if err != nil {
			t.Fatal(err)
		}
		pa := newAuth(t, testConfig(), s)
		r, err := pa.Authenticate(context.Background(), "Alice", "secret123")
		if err != nil {
			t.Errorf("%s: unexpected error %s", name, err)
		} else if !r.Accepted {
			t.Errorf("%s: hash %q rejected: %+v", name, h, r)
		}
		r, err = pa.Authenticate(context.Background(), "Alice", "secret12")
		if err != nil || r.Accepted {
			t.Errorf("%s: wrong password = %+v, %v", name, r, err)
		}
	}
}

func TestPasswordDrivers(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordDrivers = []string{"bcrypt_2y", "bcrypt"}
	r, err := newAuth(t, cfg, nil).Authenticate(context.Background(), "alice", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	if r.Accepted || !errors.Is(r.Reason, api.WrongPass) {
		t.Errorf("disabled hash format accepted: %+v", r)
	}
}

func TestCanonicalName(t *testing.T) {
	cases := []struct {
		canonicalCase, profile bool
		user, expected         string
	}{
		{false, false, "127.0.0.1", ""},
		{false, false, "2001:db8::1", ""},
		{false, false, "alice", "Alice"},
		{false, false, "ALICE", "Alice"},
		{false, false, "twin one", "Twin one"},
		{true, false, "twin one", "Twin One"},
		{false, false, "nobody", "nobody"},
		{false, false, "Carol Wiki", "Carol Wiki"},
		{false, true, "carol", "Carol Wiki"},
		{false, true, "twin", "twin"},
	}
	for i, c := range cases {
		cfg := testConfig()
		cfg.UseCanonicalCase = c.canonicalCase
		cfg.UseWikiProfile = c.profile
		pa := newAuth(t, cfg, nil)
		got, err := pa.CanonicalName(context.Background(), c.user)
		if err != nil {
			t.Errorf("%d: unexpected error %s", i, err)
			continue
		}
		if got != c.expected {
			t.Errorf("%d: CanonicalName(%q) = %q, expected %q", i, c.user, got, c.expected)
		}
		again, err := pa.CanonicalName(context.Background(), got)
		if err != nil || again != got {
			t.Errorf("%d: CanonicalName is not idempotent: %q then %q (%v)", i, got, again, err)
		}
	}
}

func TestUserExists(t *testing.T) {
	cfg := testConfig()
	cfg.UseWikiProfile = true
	pa := newAuth(t, cfg, nil)
	cases := []struct {
		user   string
		exists bool
	}{
		{"alice", true},
		{"Bob", true},
		{"carol wiki", true},
		{"twin", false},
		{"nobody", false},
		{"", false},
	}
	for _, c := range cases {
		got, err := pa.UserExists(context.Background(), c.user)
		if err != nil || got != c.exists {
			t.Errorf("UserExists(%q) = %t, %v; expected %t", c.user, got, err, c.exists)
		}
	}
}

// trackingStore counts sessions and can make every lookup fail.
type trackingStore struct {
	store.Store
	failOpen, failFind error
	opened, closed     int
}

type trackingSession struct {
	store.Session
	ts *trackingStore
}

func (ts *trackingStore) Open(ctx context.Context) (store.Session, error) {
	if ts.failOpen != nil {
		return nil, ts.failOpen
	}
	sess, err := ts.Store.Open(ctx)
	if err != nil {
		return nil, err
	}
	ts.opened++
	return &trackingSession{Session: sess, ts: ts}, nil
}

func (ts *trackingStore) String() string {
	return "tracking store"
}

func (s *trackingSession) Close() error {
	s.ts.closed++
	return s.Session.Close()
}

func (s *trackingSession) FindUser(ctx context.Context, cleanName string, canonicalCase bool) (*store.User, error) {
	if s.ts.failFind != nil {
		return nil, s.ts.failFind
	}
	return s.Session.FindUser(ctx, cleanName, canonicalCase)
}

func newTrackingStore(t *testing.T) *trackingStore {
	s, err := staticstore.New(storetest.Fixture())
	if err != nil {
		t.Fatal(err)
	}
	return &trackingStore{Store: s}
}

func TestSessionsAreReleased(t *testing.T) {
	ts := newTrackingStore(t)
	pa := newAuth(t, testConfig(), ts)
	ctx := context.Background()
	for _, user := range []string{"alice", "bob", "ivan", "nobody", ""} {
		pa.Authenticate(ctx, user, "secret123")
		pa.Authenticate(ctx, user, "wrong")
		pa.CanonicalName(ctx, user)
		pa.UserExists(ctx, user)
	}
	ts.failFind = errors.New("connection reset")
	pa.Authenticate(ctx, "alice", "secret123")
	if ts.opened == 0 || ts.opened != ts.closed {
		t.Errorf("opened %d sessions, closed %d", ts.opened, ts.closed)
	}
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()
	for _, ts := range []*trackingStore{
		{failOpen: errors.New("dial tcp: connection refused")},
		{failFind: errors.New("table phpbb_users does not exist")},
	} {
		if ts.failFind != nil {
			ts.Store = newTrackingStore(t).Store
		}
		pa := newAuth(t, testConfig(), ts)
		if r, err := pa.Authenticate(ctx, "alice", "secret123"); err == nil {
			t.Errorf("Authenticate = %+v, expected an error", r)
		}
		if name, err := pa.CanonicalName(ctx, "alice"); err == nil {
			t.Errorf("CanonicalName = %q, expected an error", name)
		}
		if _, err := pa.UserExists(ctx, "alice"); err == nil {
			t.Errorf("UserExists succeeded")
		}
		// IP addresses never reach the store.
		if name, err := pa.CanonicalName(ctx, "10.0.0.1"); err != nil || name != "" {
			t.Errorf("CanonicalName(ip) = %q, %v", name, err)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	pa := newAuth(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r, err := pa.Authenticate(ctx, "alice", "secret123"); err == nil {
		t.Errorf("Authenticate with a cancelled context = %+v", r)
	}
}

func TestAuthenticateSQL(t *testing.T) {
	s, err := sqlstore.New(storetest.SQLiteConfig(t, sqlstore.BackendName))
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.UseCanonicalCase = true
	cfg.UseWikiProfile = true
	cfg.Groups = []string{"wiki", "editors"}
	pa := newAuth(t, cfg, s)
	defer pa.Stop()
	cases := []struct {
		user     string
		accepted bool
		name     string
	}{
		{"ALICE", true, "Alice"},
		{"carol", true, "Carol Wiki"},
		{"bob", false, ""},
		{"twin", false, ""},
	}
	for _, c := range cases {
		r, err := pa.Authenticate(context.Background(), c.user, "secret123")
		if err != nil {
			t.Errorf("Authenticate(%q): %s", c.user, err)
			continue
		}
		if r.Accepted != c.accepted || r.Username != c.name {
			t.Errorf("Authenticate(%q) = %+v", c.user, r)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	c := testConfig()
	c.QueryTimeout = 0
	c.PhpBBPath = "/var/www/forum"
	if err := c.Validate("phpbb"); err != nil {
		t.Fatal(err)
	}
	if c.QueryTimeout != defaultQueryTimeout {
		t.Errorf("query_timeout = %s", c.QueryTimeout)
	}
	bad := []func(*PhpBBAuthConfig){
		func(c *PhpBBAuthConfig) { c.QueryTimeout = -time.Second },
		func(c *PhpBBAuthConfig) { c.PasswordDrivers = []string{"crc32"} },
		func(c *PhpBBAuthConfig) { c.Groups = nil },
	}
	for i, mod := range bad {
		c := testConfig()
		mod(c)
		if err := c.Validate("phpbb"); err == nil {
			t.Errorf("%d: expected to fail, but it passed", i)
		}
	}
}
