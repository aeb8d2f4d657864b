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

// Package sqlstore reads the phpBB tables with database/sql.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cesanta/glog"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/store"
)

const BackendName = "sql"

func init() {
	store.Register(BackendName, func(c *store.Config) (store.Store, error) {
		return New(c)
	})
}

type SQLStore struct {
	db      *sql.DB
	conn    *store.ConnectionConfig
	tables  store.Tables
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

func buildQueries(d store.Dialect, t store.Tables) queries {
	q := d.Quote
	var qs queries
	qs.findUserClean = d.Rebind(fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ? LIMIT 1",
		q("user_id"), q("username_clean"), q(t.Users), q("username_clean")))
	qs.findUserCanonical = d.Rebind(fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ? LIMIT 1",
		q("user_id"), q("username"), q(t.Users), q("username_clean")))
	qs.credentials = d.Rebind(fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = ? AND %s <> %d LIMIT 1",
		q("user_password"), q("user_email"), q("username_clean"), q(t.Users),
		q("user_id"), q("user_type"), store.UserTypeInactive))
	if t.ProfileData != "" && t.ProfileField != "" {
		qs.profileOwners = d.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE LOWER(%s) = LOWER(?)",
			q("user_id"), q(t.ProfileData), q(t.ProfileField)))
		qs.profileValue = d.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1",
			q(t.ProfileField), q(t.ProfileData), q("user_id")))
	}
	if t.Groups != "" && t.UserGroup != "" {
		qs.groupID = d.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
			q("group_id"), q(t.Groups), q("group_name")))
		qs.countMemberships = d.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ? AND %s = 0",
			q(t.UserGroup), q("user_id"), q("group_id"), q("user_pending")))
	}
	return qs
}

func New(c *store.Config) (*SQLStore, error) {
	cc := c.Connection()
	if cc == nil {
		return nil, errors.New("sql store: no database connection configured")
	}
	dsn, err := cc.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cc.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if cc.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cc.MaxOpenConns)
	}
	return &SQLStore{
		db:      db,
		conn:    cc,
		tables:  c.Tables,
		queries: buildQueries(store.DialectFor(cc.Driver), c.Tables),
	}, nil
}

func (s *SQLStore) Open(ctx context.Context) (store.Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", s, err)
	}
	return &session{conn: conn, queries: &s.queries, tables: s.tables}, nil
}

func (s *SQLStore) String() string {
	if s.conn.Database != "" {
		return fmt.Sprintf("%s: %s/%s", s.conn.Driver, s.conn.Host, s.conn.Database)
	}
	return s.conn.Driver
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type session struct {
	conn    *sql.Conn
	queries *queries
	tables  store.Tables
}

func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *session) FindUser(ctx context.Context, cleanName string, canonicalCase bool) (*store.User, error) {
	query := s.queries.findUserClean
	if canonicalCase {
		query = s.queries.findUserCanonical
	}
	var u store.User
	err := s.conn.QueryRowContext(ctx, query, cleanName).Scan(&u.ID, &u.Name)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying table %s, check the users table setting: %w", s.tables.Users, err)
	}
	return &u, nil
}

func (s *session) Credentials(ctx context.Context, userID int64) (*store.Credentials, error) {
	var c store.Credentials
	var email sql.NullString
	err := s.conn.QueryRowContext(ctx, s.queries.credentials, userID).Scan(&c.PasswordHash, &email, &c.CleanName)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("querying table %s, check the users table setting: %w", s.tables.Users, err)
	}
	c.Email = email.String
	return &c, nil
}

func (s *session) ProfileOwners(ctx context.Context, value string) ([]int64, error) {
	if s.queries.profileOwners == "" {
		return nil, store.ErrNoProfileTable
	}
	rows, err := s.conn.QueryContext(ctx, s.queries.profileOwners, value)
	if err != nil {
		return nil, fmt.Errorf("querying table %s, check the profile settings: %w", s.tables.ProfileData, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *session) ProfileValue(ctx context.Context, userID int64) (string, error) {
	if s.queries.profileValue == "" {
		return "", store.ErrNoProfileTable
	}
	var value sql.NullString
	err := s.conn.QueryRowContext(ctx, s.queries.profileValue, userID).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("querying table %s, check the profile settings: %w", s.tables.ProfileData, err)
	}
	return value.String, nil
}

func (s *session) GroupID(ctx context.Context, name string) (int64, error) {
	if s.queries.groupID == "" {
		return api.NoGroup, store.ErrNoGroupTables
	}
	rows, err := s.conn.QueryContext(ctx, s.queries.groupID, name)
	if err != nil {
		return api.NoGroup, fmt.Errorf("querying table %s, check the groups table setting: %w", s.tables.Groups, err)
	}
	defer rows.Close()
	id := api.NoGroup
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return api.NoGroup, err
		}
	}
	if err := rows.Err(); err != nil {
		return api.NoGroup, err
	}
	glog.V(3).Infof("Group %q has id %d", name, id)
	return id, nil
}

func (s *session) CountMemberships(ctx context.Context, userID, groupID int64) (int64, error) {
	if s.queries.countMemberships == "" {
		return 0, store.ErrNoGroupTables
	}
	var n int64
	err := s.conn.QueryRowContext(ctx, s.queries.countMemberships, userID, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("querying table %s, check the user_group table setting: %w", s.tables.UserGroup, err)
	}
	return n, nil
}
