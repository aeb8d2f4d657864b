/*
   Copyright 2024 Cesanta Software Ltd.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       https://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package storetest holds the fixture and the behaviour every store backend
// must share. Backend tests run RunConformance against their own store
// loaded with Fixture.
package storetest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/store"
	"github.com/cesanta/phpbb_auth/store/staticstore"
)

// Hash of "secret123" in phpBB 3.0 format.
const SecretHash = "$H$9abcdefghPNK23y9v9h4RfTIXzN5ow0"

// Tables names the fixture tables.
var Tables = store.Tables{
	Users:        "phpbb_users",
	Groups:       "phpbb_groups",
	UserGroup:    "phpbb_user_group",
	ProfileData:  "phpbb_profile_fields_data",
	ProfileField: "pf_wiki_username",
}

// Fixture returns a fresh copy of the test board:
// alice is a wiki member, bob is pending, ivan is inactive, carol has a
// wiki username, the twins share one.
func Fixture() *staticstore.Data {
	return &staticstore.Data{
		Groups: []*staticstore.Group{
			{ID: 7, Name: "wiki"},
			{ID: 8, Name: "editors"},
		},
		Users: []*staticstore.User{
			{ID: 42, Username: "Alice", UsernameClean: "alice", PasswordHash: SecretHash, Email: "alice@example.com", Groups: []string{"wiki"}},
			{ID: 43, Username: "Bob", UsernameClean: "bob", PasswordHash: SecretHash, Email: "bob@example.com", PendingGroups: []string{"wiki"}},
			{ID: 44, Type: store.UserTypeInactive, Username: "Ivan", UsernameClean: "ivan", PasswordHash: SecretHash, Email: "ivan@example.com", Groups: []string{"wiki"}},
			{ID: 45, Username: "carol", UsernameClean: "carol", PasswordHash: SecretHash, Email: "carol@example.com", Profile: "Carol Wiki", Groups: []string{"editors"}},
			{ID: 46, Username: "Twin One", UsernameClean: "twin one", PasswordHash: SecretHash, Profile: "Twin"},
			{ID: 47, Username: "Twin Two", UsernameClean: "twin two", PasswordHash: SecretHash, Profile: "TWIN"},
		},
	}
}

var schema = []string{
	`CREATE TABLE phpbb_users (
		user_id INTEGER PRIMARY KEY,
		user_type INTEGER NOT NULL DEFAULT 0,
		username VARCHAR(255) NOT NULL,
		username_clean VARCHAR(255) NOT NULL UNIQUE,
		user_password VARCHAR(255) NOT NULL DEFAULT '',
		user_email VARCHAR(100) NOT NULL DEFAULT '')`,
	`CREATE TABLE phpbb_groups (
		group_id INTEGER PRIMARY KEY,
		group_name VARCHAR(255) NOT NULL)`,
	`CREATE TABLE phpbb_user_group (
		group_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		user_pending INTEGER NOT NULL DEFAULT 1)`,
	`CREATE TABLE phpbb_profile_fields_data (
		user_id INTEGER PRIMARY KEY,
		pf_wiki_username VARCHAR(255))`,
}

// Seed creates the phpBB tables in db and fills them from d.
func Seed(db *sql.DB, d *staticstore.Data) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	groupIDs := make(map[string]int64)
	for _, g := range d.Groups {
		if _, err := db.Exec("INSERT INTO phpbb_groups (group_id, group_name) VALUES (?, ?)", g.ID, g.Name); err != nil {
			return err
		}
		groupIDs[g.Name] = g.ID
	}
	for _, u := range d.Users {
		if _, err := db.Exec("INSERT INTO phpbb_users (user_id, user_type, username, username_clean, user_password, user_email) VALUES (?, ?, ?, ?, ?, ?)",
			u.ID, u.Type, u.Username, u.UsernameClean, u.PasswordHash, u.Email); err != nil {
			return err
		}
		if u.Profile != "" {
			if _, err := db.Exec("INSERT INTO phpbb_profile_fields_data (user_id, pf_wiki_username) VALUES (?, ?)", u.ID, u.Profile); err != nil {
				return err
			}
		}
		for pending, names := range [][]string{u.Groups, u.PendingGroups} {
			for _, gn := range names {
				if _, err := db.Exec("INSERT INTO phpbb_user_group (group_id, user_id, user_pending) VALUES (?, ?, ?)", groupIDs[gn], u.ID, pending); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SQLiteConfig writes the fixture into a fresh SQLite file and returns a
// store configuration pointing at it. The caller must link the sqlite3 driver.
func SQLiteConfig(t *testing.T, backend string) *store.Config {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "phpbb.db")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := Seed(db, Fixture()); err != nil {
		t.Fatalf("seeding %s: %s", dsn, err)
	}
	return &store.Config{
		Backend:      backend,
		WikiDatabase: &store.ConnectionConfig{Driver: "sqlite3", DataSourceName: dsn},
		Tables:       Tables,
	}
}

// RunConformance checks s, loaded with Fixture, against the behaviour all
// backends share.
func RunConformance(t *testing.T, s store.Store) {
	ctx := context.Background()
	open := func(t *testing.T) store.Session {
		t.Helper()
		sess, err := s.Open(ctx)
		if err != nil {
			t.Fatalf("Open: %s", err)
		}
		t.Cleanup(func() { sess.Close() })
		return sess
	}

	t.Run("FindUser", func(t *testing.T) {
		sess := open(t)
		cases := []struct {
			clean     string
			canonical bool
			id        int64
			name      string
		}{
			{"alice", false, 42, "alice"},
			{"alice", true, 42, "Alice"},
			{"twin one", true, 46, "Twin One"},
			{"ivan", false, 44, "ivan"},
		}
		for _, c := range cases {
			u, err := sess.FindUser(ctx, c.clean, c.canonical)
			if err != nil {
				t.Errorf("FindUser(%q, %t): %s", c.clean, c.canonical, err)
				continue
			}
			if u.ID != c.id || u.Name != c.name {
				t.Errorf("FindUser(%q, %t) = %+v, expected %d %q", c.clean, c.canonical, u, c.id, c.name)
			}
		}
		for _, clean := range []string{"nobody", "Alice", ""} {
			if _, err := sess.FindUser(ctx, clean, false); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("FindUser(%q) error = %v, expected ErrNotFound", clean, err)
			}
		}
	})

	t.Run("Credentials", func(t *testing.T) {
		sess := open(t)
		c, err := sess.Credentials(ctx, 42)
		if err != nil {
			t.Fatalf("Credentials(42): %s", err)
		}
		if c.PasswordHash != SecretHash || c.Email != "alice@example.com" || c.CleanName != "alice" {
			t.Errorf("Credentials(42) = %+v", c)
		}
		for _, id := range []int64{44, 999} {
			if _, err := sess.Credentials(ctx, id); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Credentials(%d) error = %v, expected ErrNotFound", id, err)
			}
		}
	})

	t.Run("Profile", func(t *testing.T) {
		sess := open(t)
		cases := []struct {
			value string
			ids   []int64
		}{
			{"Carol Wiki", []int64{45}},
			{"carol wiki", []int64{45}},
			{"twin", []int64{46, 47}},
			{"nobody", nil},
		}
		for _, c := range cases {
			ids, err := sess.ProfileOwners(ctx, c.value)
			if err != nil {
				t.Errorf("ProfileOwners(%q): %s", c.value, err)
				continue
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			if len(ids) != len(c.ids) {
				t.Errorf("ProfileOwners(%q) = %v, expected %v", c.value, ids, c.ids)
				continue
			}
			for i := range ids {
				if ids[i] != c.ids[i] {
					t.Errorf("ProfileOwners(%q) = %v, expected %v", c.value, ids, c.ids)
					break
				}
			}
		}
		if v, err := sess.ProfileValue(ctx, 45); err != nil || v != "Carol Wiki" {
			t.Errorf("ProfileValue(45) = %q, %v", v, err)
		}
		if v, err := sess.ProfileValue(ctx, 42); err != nil || v != "" {
			t.Errorf("ProfileValue(42) = %q, %v", v, err)
		}
	})

	t.Run("Groups", func(t *testing.T) {
		sess := open(t)
		if id, err := sess.GroupID(ctx, "wiki"); err != nil || id != 7 {
			t.Errorf("GroupID(wiki) = %d, %v", id, err)
		}
		if id, err := sess.GroupID(ctx, "nope"); err != nil || id != api.NoGroup {
			t.Errorf("GroupID(nope) = %d, %v", id, err)
		}
		cases := []struct {
			userID, groupID, n int64
		}{
			{42, 7, 1},
			{43, 7, 0}, // pending
			{45, 7, 0},
			{45, 8, 1},
			{42, api.NoGroup, 0},
		}
		for _, c := range cases {
			if n, err := sess.CountMemberships(ctx, c.userID, c.groupID); err != nil || n != c.n {
				t.Errorf("CountMemberships(%d, %d) = %d, %v; expected %d", c.userID, c.groupID, n, err, c.n)
			}
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		sess, err := s.Open(cctx)
		if err == nil {
			defer sess.Close()
			if _, err = sess.FindUser(cctx, "alice", false); err == nil {
				t.Errorf("lookup with a cancelled context succeeded")
			}
		}
	})

	t.Run("CloseTwice", func(t *testing.T) {
		sess, err := s.Open(ctx)
		if err != nil {
			t.Fatal(err)
		}
		sess.Close()
		if err := sess.Close(); err != nil {
			t.Errorf("second Close: %s", err)
		}
	})
}
