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

package server

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"strings"

	mapset "github.com/deckarep/golang-set"
	yaml "gopkg.in/yaml.v2"

	"github.com/cesanta/phpbb_auth/authn"
	"github.com/cesanta/phpbb_auth/store"
)

type Config struct {
	Server ServerConfig          `yaml:"server"`
	Store  store.Config          `yaml:"store"`
	PhpBB  authn.PhpBBAuthConfig `yaml:"phpbb"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"addr,omitempty"`
	// Net is "tcp" (default) or "unix".
	Net          string `yaml:"net,omitempty"`
	PathPrefix   string `yaml:"path_prefix,omitempty"`
	RealIPHeader string `yaml:"real_ip_header,omitempty"`
	RealIPPos    int    `yaml:"real_ip_pos,omitempty"`
	CertFile     string `yaml:"certificate,omitempty"`
	KeyFile      string `yaml:"key,omitempty"`
	Realm        string `yaml:"realm,omitempty"`

	LetsEncrypt LetsEncryptConfig `yaml:"letsencrypt,omitempty"`
}

type LetsEncryptConfig struct {
	Host     string `yaml:"host,omitempty"`
	Email    string `yaml:"email,omitempty"`
	CacheDir string `yaml:"cache_dir,omitempty"`
}

func validate(c *Config) error {
	if c.Server.ListenAddress == "" {
		return errors.New("server.addr is required")
	}
	switch c.Server.Net {
	case "":
		c.Server.Net = "tcp"
	case "tcp", "unix":
	default:
		return fmt.Errorf("server.net: unsupported network %q", c.Server.Net)
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return errors.New("server.certificate and server.key must be set together")
	}
	if le := c.Server.LetsEncrypt; le.Email != "" {
		if c.Server.CertFile != "" {
			return errors.New("server.certificate and server.letsencrypt are mutually exclusive")
		}
		if le.Host == "" || le.CacheDir == "" {
			return errors.New("server.letsencrypt.{host,cache_dir} are required")
		}
	}
	if c.Server.Realm == "" {
		c.Server.Realm = "phpBB"
	}
	c.Server.PathPrefix = strings.TrimSuffix(c.Server.PathPrefix, "/")

	if err := c.Store.Validate("store"); err != nil {
		return err
	}
	if c.Store.Backend != "static" {
		if err := c.Store.Tables.Validate("store.tables", c.PhpBB.Enabled, c.PhpBB.UseWikiProfile); err != nil {
			return err
		}
	}
	c.PhpBB.Groups = uniqueNames(c.PhpBB.Groups)
	return c.PhpBB.Validate("phpbb")
}

// uniqueNames drops repeated group names, keeping the first occurrence.
func uniqueNames(names []string) []string {
	if names == nil {
		return nil
	}
	seen := mapset.NewThreadUnsafeSet()
	unique := []string{}
	for _, n := range names {
		if seen.Add(n) {
			unique = append(unique, n)
		}
	}
	return unique
}

// LoadConfig reads fileName and applies environment overrides of the form
// PREFIX__SECTION__KEY=value.
func LoadConfig(fileName, envPrefix string) (*Config, error) {
	contents, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %s", fileName, err)
	}
	c := &Config{}
	if err = yaml.UnmarshalStrict(contents, c); err != nil {
		return nil, fmt.Errorf("could not parse config: %s", err)
	}
	if envPrefix != "" {
		if err = applyEnv(c, envPrefix+"__", os.Environ()); err != nil {
			return nil, fmt.Errorf("could not apply environment overrides: %s", err)
		}
	}
	if err = validate(c); err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}
	return c, nil
}

// applyEnv sets the settings named by environment variables. Path elements
// are the YAML keys. String settings take the value as is, others decode it
// as YAML into the setting's type, so lists, booleans and durations work.
func applyEnv(c *Config, prefix string, environ []string) error {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(name, prefix)), "__")
		f, err := settingByPath(reflect.ValueOf(c).Elem(), path)
		if err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
		if f.Kind() == reflect.String {
			f.SetString(value)
			continue
		}
		if err = yaml.UnmarshalStrict([]byte(value), f.Addr().Interface()); err != nil {
			return fmt.Errorf("%s: %s", name, err)
		}
	}
	return nil
}

// settingByPath walks v along YAML keys, allocating sections on the way.
func settingByPath(v reflect.Value, path []string) (reflect.Value, error) {
	for i, key := range path {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s is not a section", strings.Join(path[:i], "."))
		}
		f, ok := fieldByKey(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown setting %s", strings.Join(path[:i+1], "."))
		}
		v = f
	}
	return v, nil
}

// fieldByKey finds the field of struct v with the YAML key, including
// fields of inlined structs.
func fieldByKey(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		if strings.Contains(opts, "inline") {
			if f, ok := fieldByKey(v.Field(i), key); ok {
				return f, true
			}
			continue
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		if name == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
