/*
   Copyright 2015 Cesanta Software Ltd.

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

// Package staticstore serves users, groups and profile fields from a YAML file.
// It is meant for development and tests, where standing up a phpBB database
// is not worth it.
package staticstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strings"

	mapset "github.com/deckarep/golang-set"
	yaml "gopkg.in/yaml.v2"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/store"
	"github.com/cesanta/phpbb_auth/utfclean"
)

const BackendName = "static"

func init() {
	store.Register(BackendName, func(c *store.Config) (store.Store, error) {
		return Load(c.StaticFile)
	})
}

type User struct {
	ID            int64  `yaml:"id" json:"id"`
	Type          int    `yaml:"type,omitempty" json:"type,omitempty"`
	Username      string `yaml:"username" json:"username"`
	UsernameClean string `yaml:"username_clean,omitempty" json:"username_clean,omitempty"`
	PasswordHash  string `yaml:"password,omitempty" json:"password,omitempty"`
	Email         string `yaml:"email,omitempty" json:"email,omitempty"`
	// Profile is the wiki username profile field.
	Profile       string   `yaml:"profile,omitempty" json:"profile,omitempty"`
	Groups        []string `yaml:"groups,omitempty" json:"groups,omitempty"`
	PendingGroups []string `yaml:"pending_groups,omitempty" json:"pending_groups,omitempty"`
}

type Group struct {
	ID   int64  `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Data is the content of a static store file.
type Data struct {
	Users  []*User  `yaml:"users"`
	Groups []*Group `yaml:"groups"`
}

func (u User) String() string {
	if u.PasswordHash != "" {
		u.PasswordHash = "***"
	}
	b, _ := json.Marshal(u)
	return string(b)
}

type membership struct {
	userID, groupID int64
}

type StaticStore struct {
	name     string
	byID     map[int64]*User
	byClean  map[string]*User
	groupIDs map[string][]int64
	members  mapset.Set
}

// Load reads a static store file.
func Load(fileName string) (*StaticStore, error) {
	contents, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %s", fileName, err)
	}
	d := &Data{}
	if err = yaml.Unmarshal(contents, d); err != nil {
		return nil, fmt.Errorf("could not parse %s: %s", fileName, err)
	}
	s, err := New(d)
	if err != nil {
		return nil, fmt.Errorf("invalid static store %s: %s", fileName, err)
	}
	s.name = fileName
	return s, nil
}

// New indexes d. Missing clean usernames are derived from the username.
func New(d *Data) (*StaticStore, error) {
	s := &StaticStore{
		name:     "static",
		byID:     make(map[int64]*User),
		byClean:  make(map[string]*User),
		groupIDs: make(map[string][]int64),
		members:  mapset.NewThreadUnsafeSet(),
	}
	for _, g := range d.Groups {
		s.groupIDs[g.Name] = append(s.groupIDs[g.Name], g.ID)
	}
	for _, u := range d.Users {
		if _, dup := s.byID[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %d", u.ID)
		}
		if u.UsernameClean == "" {
			clean, err := utfclean.Clean(u.Username)
			if err != nil {
				return nil, fmt.Errorf("user %d: %s", u.ID, err)
			}
			u.UsernameClean = clean
		}
		if _, dup := s.byClean[u.UsernameClean]; dup {
			return nil, fmt.Errorf("duplicate clean username %q", u.UsernameClean)
		}
		s.byID[u.ID] = u
		s.byClean[u.UsernameClean] = u
		for _, gn := range u.Groups {
			ids, ok := s.groupIDs[gn]
			if !ok {
				return nil, fmt.Errorf("user %d: unknown group %q", u.ID, gn)
			}
			s.members.Add(membership{userID: u.ID, groupID: ids[len(ids)-1]})
		}
		for _, gn := range u.PendingGroups {
			if _, ok := s.groupIDs[gn]; !ok {
				return nil, fmt.Errorf("user %d: unknown group %q", u.ID, gn)
			}
		}
	}
	return s, nil
}

func (s *StaticStore) Open(ctx context.Context) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{s: s}, nil
}

func (s *StaticStore) String() string {
	return fmt.Sprintf("%s: %s", BackendName, s.name)
}

func (s *StaticStore) Close() error {
	return nil
}

type session struct {
	s *StaticStore
}

func (ss *session) Close() error {
	return nil
}

func (ss *session) FindUser(ctx context.Context, cleanName string, canonicalCase bool) (*store.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := ss.s.byClean[cleanName]
	if u == nil {
		return nil, store.ErrNotFound
	}
	name := u.UsernameClean
	if canonicalCase {
		name = u.Username
	}
	return &store.User{ID: u.ID, Name: name}, nil
}

func (ss *session) Credentials(ctx context.Context, userID int64) (*store.Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := ss.s.byID[userID]
	if u == nil || u.Type == store.UserTypeInactive {
		return nil, store.ErrNotFound
	}
	return &store.Credentials{PasswordHash: u.PasswordHash, Email: u.Email, CleanName: u.UsernameClean}, nil
}

func (ss *session) ProfileOwners(ctx context.Context, value string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []int64
	for id, u := range ss.s.byID {
		if u.Profile != "" && strings.ToLower(u.Profile) == strings.ToLower(value) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (ss *session) ProfileValue(ctx context.Context, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if u := ss.s.byID[userID]; u != nil {
		return u.Profile, nil
	}
	return "", nil
}

func (ss *session) GroupID(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return api.NoGroup, err
	}
	ids, ok := ss.s.groupIDs[name]
	if !ok {
		return api.NoGroup, nil
	}
	return ids[len(ids)-1], nil
}

func (ss *session) CountMemberships(ctx context.Context, userID, groupID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if ss.s.members.Contains(membership{userID: userID, groupID: groupID}) {
		return 1, nil
	}
	return 0, nil
}
