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

package store

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const defaultTimeout = 10 * time.Second

var (
	// EnableSQLite3 is set by builds that link the SQLite driver.
	EnableSQLite3 = false

	identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// Config selects and configures the user database backend.
type Config struct {
	// Backend is the registered backend name: "sql" (default), "xorm" or "static".
	Backend string `yaml:"backend,omitempty"`

	// UseExtDatabase tells that the phpBB tables live in a different database
	// than the wiki. When false, WikiDatabase is used.
	UseExtDatabase bool              `yaml:"use_ext_database,omitempty"`
	ExtDatabase    *ConnectionConfig `yaml:"ext_database,omitempty"`
	WikiDatabase   *ConnectionConfig `yaml:"wiki_database,omitempty"`

	Tables Tables `yaml:"tables"`

	// StaticFile is a YAML file with users, groups and profiles for the static backend.
	StaticFile string `yaml:"static_file,omitempty"`
}

type ConnectionConfig struct {
	Driver string `yaml:"driver,omitempty"`
	// DataSourceName, if set, is passed to the driver as is (after env expansion)
	// and the discrete fields below are ignored.
	DataSourceName string `yaml:"data_source_name,omitempty"`

	Host         string        `yaml:"host,omitempty"`
	Port         int           `yaml:"port,omitempty"`
	User         string        `yaml:"user,omitempty"`
	Password     string        `yaml:"password,omitempty"`
	PasswordFile string        `yaml:"password_file,omitempty"`
	Database     string        `yaml:"database,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	MaxOpenConns int           `yaml:"max_open_conns,omitempty"`
}

// Tables names the phpBB tables and the custom profile field.
// Table names usually carry the board's prefix, e.g. phpbb_users.
type Tables struct {
	Users        string `yaml:"users,omitempty"`
	Groups       string `yaml:"groups,omitempty"`
	UserGroup    string `yaml:"user_group,omitempty"`
	ProfileData  string `yaml:"profile_data,omitempty"`
	ProfileField string `yaml:"profile_field,omitempty"`
}

// Connection returns the database the phpBB tables live in.
func (c *Config) Connection() *ConnectionConfig {
	if c.UseExtDatabase {
		return c.ExtDatabase
	}
	return c.WikiDatabase
}

func (c *Config) Validate(configKey string) error {
	if c.Backend == "" {
		c.Backend = "sql"
	}
	if c.Backend == "static" {
		if c.StaticFile == "" {
			return fmt.Errorf("%s.static_file is required", configKey)
		}
		return nil
	}
	cc := c.Connection()
	if cc == nil {
		if c.UseExtDatabase {
			return fmt.Errorf("%s.ext_database is required when use_ext_database is set", configKey)
		}
		return fmt.Errorf("%s.wiki_database is required when use_ext_database is not set", configKey)
	}
	key := configKey + ".wiki_database"
	if c.UseExtDatabase {
		key = configKey + ".ext_database"
	}
	return cc.Validate(key)
}

func (c *ConnectionConfig) Validate(configKey string) error {
	switch c.Driver {
	case "mysql", "postgres":
	case "sqlite3":
		if !EnableSQLite3 {
			return fmt.Errorf("%s.driver: sqlite3 support is not compiled in", configKey)
		}
	case "":
		return fmt.Errorf("%s.driver is required", configKey)
	default:
		return fmt.Errorf("%s.driver: unsupported driver %q", configKey, c.Driver)
	}
	if c.DataSourceName == "" && c.Driver != "sqlite3" {
		if c.Host == "" {
			return fmt.Errorf("%s.host or %s.data_source_name is required", configKey, configKey)
		}
		if c.Database == "" {
			return fmt.Errorf("%s.database is required", configKey)
		}
	}
	if c.DataSourceName == "" && c.Driver == "sqlite3" {
		return fmt.Errorf("%s.data_source_name is required for sqlite3", configKey)
	}
	if c.PasswordFile != "" {
		contents, err := ioutil.ReadFile(c.PasswordFile)
		if err != nil {
			return fmt.Errorf("could not read %s: %s", c.PasswordFile, err)
		}
		c.Password = strings.TrimSpace(string(contents))
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%s.timeout must not be negative", configKey)
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	return nil
}

// DSN builds the driver-specific data source name.
func (c *ConnectionConfig) DSN() (string, error) {
	if c.DataSourceName != "" {
		return os.ExpandEnv(c.DataSourceName), nil
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	switch c.Driver {
	case "mysql":
		mc := mysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = c.Host
		if c.Port != 0 {
			mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		}
		mc.User = c.User
		mc.Passwd = c.Password
		mc.DBName = c.Database
		mc.Timeout = timeout
		mc.ReadTimeout = timeout
		mc.WriteTimeout = timeout
		// phpBB stores UTF-8; the old extension issued SET NAMES 'utf8'.
		mc.Params = map[string]string{"charset": "utf8mb4,utf8"}
		return mc.FormatDSN(), nil
	case "postgres":
		u := &url.URL{
			Scheme: "postgres",
			Host:   c.Host,
			Path:   "/" + c.Database,
		}
		if c.Port != 0 {
			u.Host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		q := url.Values{}
		q.Set("connect_timeout", strconv.Itoa(int(timeout/time.Second)))
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return "", fmt.Errorf("cannot build a data source name for driver %q", c.Driver)
}

// Validate checks the table names. Group tables are only needed when group
// membership is enforced, the profile table only when profile lookup is on.
func (t *Tables) Validate(configKey string, needGroups, needProfile bool) error {
	check := func(name, value string) error {
		if value == "" {
			return fmt.Errorf("%s.%s is required", configKey, name)
		}
		if !identRegex.MatchString(value) {
			return fmt.Errorf("%s.%s: invalid identifier %q", configKey, name, value)
		}
		return nil
	}
	if err := check("users", t.Users); err != nil {
		return err
	}
	if needGroups {
		if err := check("groups", t.Groups); err != nil {
			return err
		}
		if err := check("user_group", t.UserGroup); err != nil {
			return err
		}
	}
	if needProfile {
		if err := check("profile_data", t.ProfileData); err != nil {
			return err
		}
		if err := check("profile_field", t.ProfileField); err != nil {
			return err
		}
	}
	return nil
}

// ErrNoProfileTable is returned by profile queries when no profile table is configured.
var ErrNoProfileTable = errors.New("store: profile table is not configured")

// ErrNoGroupTables is returned by group queries when no group tables are configured.
var ErrNoGroupTables = errors.New("store: group tables are not configured")
