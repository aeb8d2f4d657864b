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

// Package xormstore reads the phpBB tables through an xorm engine.
package xormstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cesanta/glog"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"xorm.io/xorm"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/store"
)

const BackendName = "xorm"

func init() {
	store.Register(BackendName, func(c *store.Config) (store.Store, error) {
		return New(c)
	})
}

type XormStore struct {
	conn    *store.ConnectionConfig
	tables  store.Tables
	engine  *xorm.Engine
	queries queries
}

type queries struct {
	findUserClean     string
	findUserCanonical string
	credentials       string
	profileOwners     string
	profileValue      string
	groupID           string
	countMemberships  string
}

func New(c *store.Config) (*XormStore, error) {
	cc := c.Connection()
	if cc == nil {
		return nil, errors.New("xorm store: no database connection configured")
	}
	dsn, err := cc.DSN()
	if err != nil {
		return nil, err
	}
	e, err := xorm.NewEngine(cc.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if cc.MaxOpenConns > 0 {
		e.SetMaxOpenConns(cc.MaxOpenConns)
	}
	xs := &XormStore{conn: cc, tables: c.Tables, engine: e}
	xs.queries = xs.buildQueries()
	return xs, nil
}

func (xs *XormStore) buildQueries() queries {
	q := xs.engine.Quote
	t := xs.tables
	var qs queries
	qs.findUserClean = fmt.Sprintf("SELECT %s AS id, %s AS name FROM %s WHERE %s = ?",
		q("user_id"), q("username_clean"), q(t.Users), q("username_clean"))
	qs.findUserCanonical = fmt.Sprintf("SELECT %s AS id, %s AS name FROM %s WHERE %s = ?",
		q("user_id"), q("username"), q(t.Users), q("username_clean"))
	qs.credentials = fmt.Sprintf("SELECT %s AS password, %s AS email, %s AS clean FROM %s WHERE %s = ? AND %s <> %d",
		q("user_password"), q("user_email"), q("username_clean"), q(t.Users),
		q("user_id"), q("user_type"), store.UserTypeInactive)
	if t.ProfileData != "" && t.ProfileField != "" {
		qs.profileOwners = fmt.Sprintf("SELECT %s AS id FROM %s WHERE LOWER(%s) = LOWER(?)",
			q("user_id"), q(t.ProfileData), q(t.ProfileField))
		qs.profileValue = fmt.Sprintf("SELECT %s AS value FROM %s WHERE %s = ?",
			q(t.ProfileField), q(t.ProfileData), q("user_id"))
	}
	if t.Groups != "" && t.UserGroup != "" {
		qs.groupID = fmt.Sprintf("SELECT %s AS id FROM %s WHERE %s = ?",
			q("group_id"), q(t.Groups), q("group_name"))
		qs.countMemberships = fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE %s = ? AND %s = ? AND %s = 0",
			q(t.UserGroup), q("user_id"), q("group_id"), q("user_pending"))
	}
	return qs
}

func (xs *XormStore) Open(ctx context.Context) (store.Session, error) {
	if err := xs.engine.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", xs, err)
	}
	sess := xs.engine.NewSession().Context(ctx)
	return &session{sess: sess, queries: &xs.queries, tables: xs.tables}, nil
}

func (xs *XormStore) String() string {
	return fmt.Sprintf("xorm %s", xs.conn.Driver)
}

func (xs *XormStore) Close() error {
	if xs.engine != nil {
		return xs.engine.Close()
	}
	return nil
}

type session struct {
	sess    *xorm.Session
	queries *queries
	tables  store.Tables
}

func (s *session) Close() error {
	if s.sess == nil {
		return nil
	}
	err := s.sess.Close()
	s.sess = nil
	return err
}

// query runs a raw query on the session. The context was bound when the
// session was opened; ctx is checked so a cancelled call fails fast.
func (s *session) query(ctx context.Context, query string, args ...interface{}) ([]map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.sess.QueryString(append([]interface{}{query}, args...)...)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func (s *session) FindUser(ctx context.Context, cleanName string, canonicalCase bool) (*store.User, error) {
	query := s.queries.findUserClean
	if canonicalCase {
		query = s.queries.findUserCanonical
	}
	rows, err := s.query(ctx, query, cleanName)
	if err != nil {
		return nil, fmt.Errorf("querying table %s, check the users table setting: %w", s.tables.Users, err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	id, err := parseID(rows[0]["id"])
	if err != nil {
		return nil, err
	}
	return &store.User{ID: id, Name: rows[0]["name"]}, nil
}

func (s *session) Credentials(ctx context.Context, userID int64) (*store.Credentials, error) {
	rows, err := s.query(ctx, s.queries.credentials, userID)
	if err != nil {
		return nil, fmt.Errorf("querying table %s, check the users table setting: %w", s.tables.Users, err)
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return &store.Credentials{
		PasswordHash: rows[0]["password"],
		Email:        rows[0]["email"],
		CleanName:    rows[0]["clean"],
	}, nil
}

func (s *session) ProfileOwners(ctx context.Context, value string) ([]int64, error) {
	if s.queries.profileOwners == "" {
		return nil, store.ErrNoProfileTable
	}
	rows, err := s.query(ctx, s.queries.profileOwners, value)
	if err != nil {
		return nil, fmt.Errorf("querying table %s, check the profile settings: %w", s.tables.ProfileData, err)
	}
	var ids []int64
	for _, r := range rows {
		id, err := parseID(r["id"])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *session) ProfileValue(ctx context.Context, userID int64) (string, error) {
	if s.queries.profileValue == "" {
		return "", store.ErrNoProfileTable
	}
	rows, err := s.query(ctx, s.queries.profileValue, userID)
	if err != nil {
		return "", fmt.Errorf("querying table %s, check the profile settings: %w", s.tables.ProfileData, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0]["value"], nil
}

func (s *session) GroupID(ctx context.Context, name string) (int64, error) {
	if s.queries.groupID == "" {
		return api.NoGroup, store.ErrNoGroupTables
	}
	rows, err := s.query(ctx, s.queries.groupID, name)
	if err != nil {
		return api.NoGroup, fmt.Errorf("querying table %s, check the groups table setting: %w", s.tables.Groups, err)
	}
	id := api.NoGroup
	for _, r := range rows {
		if id, err = parseID(r["id"]); err != nil {
			return api.NoGroup, err
		}
	}
	glog.V(3).Infof("Group %q has id %d", name, id)
	return id, nil
}

func (s *session) CountMemberships(ctx context.Context, userID, groupID int64) (int64, error) {
	if s.queries.countMemberships == "" {
		return 0, store.ErrNoGroupTables
	}
	rows, err := s.query(ctx, s.queries.countMemberships, userID, groupID)
	if err != nil {
		return 0, fmt.Errorf("querying table %s, check the user_group table setting: %w", s.tables.UserGroup, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return parseID(rows[0]["n"])
}
