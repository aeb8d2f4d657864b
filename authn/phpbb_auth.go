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

// Package authn authenticates wiki logins against a phpBB user database.
package authn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cesanta/glog"
	"github.com/dchest/uniuri"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/authz"
	"github.com/cesanta/phpbb_auth/passwords"
	"github.com/cesanta/phpbb_auth/store"
)

const defaultQueryTimeout = 10 * time.Second

// dummyHash is checked against when there is no stored hash to check, so
// that unknown users take as long to reject as wrong passwords. It uses
// phpBB's default bcrypt cost.
const dummyHash = "$2y$10$92IXUNpkjO0rOQ5byMi.Ye4oKoEa3Ro9llC/.og/at2.uheWG/igi"

var dummySubject = passwords.Subject{LoginName: "anonymous"}

type PhpBBAuthConfig struct {
	authz.GroupAuthzConfig `yaml:",inline"`

	// UseCanonicalCase returns the username column (as typed at registration)
	// instead of username_clean.
	UseCanonicalCase bool `yaml:"use_canonical_case,omitempty"`
	// UseWikiProfile enables lookup by the wiki username profile field.
	UseWikiProfile bool `yaml:"use_wiki_profile,omitempty"`

	LoginMessage string `yaml:"login_message,omitempty"`
	NoWikiError  string `yaml:"no_wiki_error,omitempty"`

	// QueryTimeout bounds one whole call, connection included.
	QueryTimeout time.Duration `yaml:"query_timeout,omitempty"`

	// PasswordDrivers restricts the accepted hash formats. Empty means all.
	PasswordDrivers []string `yaml:"password_drivers,flow,omitempty"`

	// PhpBBPath is accepted for compatibility with old configurations and ignored.
	PhpBBPath string `yaml:"phpbb_path,omitempty"`
}

func (c *PhpBBAuthConfig) Validate(configKey string) error {
	if err := c.GroupAuthzConfig.Validate(configKey); err != nil {
		return err
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("%s.query_timeout must not be negative", configKey)
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if _, err := passwords.NewManagerFor(c.PasswordDrivers); err != nil {
		return fmt.Errorf("%s.password_drivers: %s", configKey, err)
	}
	if c.PhpBBPath != "" {
		glog.Warningf("%s.phpbb_path is no longer used and will be ignored", configKey)
	}
	return nil
}

// Verifier checks a password against a stored hash.
type Verifier interface {
	Check(password, hash string, subject passwords.Subject) bool
}

type PhpBBAuth struct {
	config     *PhpBBAuthConfig
	store      store.Store
	resolver   *Resolver
	verifier   Verifier
	dummyHash  string
	authorizer api.Authorizer
}

func NewPhpBBAuth(c *PhpBBAuthConfig, s store.Store) (*PhpBBAuth, error) {
	pm, err := passwords.NewManagerFor(c.PasswordDrivers)
	if err != nil {
		return nil, err
	}
	dummy := dummyHash
	if pm.DriverFor(dummy) == nil {
		// bcrypt is not accepted, use the preferred driver instead.
		if dummy, err = pm.Hash(pm.Names()[0], uniuri.New(), dummySubject); err != nil {
			return nil, err
		}
	}
	pa := &PhpBBAuth{
		config:     c,
		store:      s,
		resolver:   &Resolver{CanonicalCase: c.UseCanonicalCase, UseProfile: c.UseWikiProfile},
		verifier:   pm,
		dummyHash:  dummy,
		authorizer: authz.NewGroupAuthorizer(&c.GroupAuthzConfig),
	}
	glog.Infof("phpBB auth: store %s, password drivers %v, authorizer %s", s, pm.Names(), pa.authorizer.Name())
	return pa, nil
}

// open starts one call: a context bounded by the query timeout and a store
// session. Both must be released by the caller, in reverse order.
func (pa *PhpBBAuth) open(ctx context.Context) (context.Context, context.CancelFunc, store.Session, error) {
	timeout := pa.config.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	sess, err := pa.store.Open(ctx)
	if err != nil {
		cancel()
		glog.Errorf("Could not open %s: %s", pa.store, err)
		return nil, nil, nil, fmt.Errorf("phpBB database: %w", err)
	}
	return ctx, cancel, sess, nil
}

func (pa *PhpBBAuth) Authenticate(ctx context.Context, user string, password api.PasswordString) (*api.Result, error) {
	ctx, cancel, sess, err := pa.open(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer sess.Close()

	glog.V(2).Infof("Looking up phpBB account for %q", user)
	id, err := pa.resolver.Resolve(ctx, sess, user)
	if err != nil {
		return pa.rejectUnchecked(user, password, err)
	}
	creds, err := sess.Credentials(ctx, id.ID)
	if errors.Is(err, store.ErrNotFound) {
		return pa.rejectUnchecked(user, password, fmt.Errorf("%w: user_id %d has no usable account", api.NoMatch, id.ID))
	} else if err != nil {
		return pa.reject(user, err)
	}
	if !pa.verifier.Check(string(password), creds.PasswordHash, passwords.Subject{LoginName: creds.CleanName}) {
		return pa.reject(user, api.WrongPass)
	}
	ok, err := pa.authorizer.Authorize(ctx, sess, id.ID)
	if err != nil {
		return pa.reject(user, err)
	}
	if !ok {
		return pa.reject(user, api.NotAuthorized)
	}
	glog.V(2).Infof("User %q logged in as wiki user %q", user, id.Name)
	return &api.Result{
		Accepted: true,
		UserID:   id.ID,
		Username: id.Name,
		Email:    creds.Email,
		RealName: api.RealNamePlaceholder,
	}, nil
}

// reject turns login failures into a rejected result. Other errors are
// returned as is.
func (pa *PhpBBAuth) reject(user string, err error) (*api.Result, error) {
	var msg string
	switch {
	case errors.Is(err, api.NotAuthorized):
		msg = pa.config.NoWikiError
	case errors.Is(err, api.NoMatch), errors.Is(err, api.WrongPass), errors.Is(err, api.AmbiguousIdentity):
		msg = pa.config.LoginMessage
	default:
		glog.Errorf("Authentication of %q failed: %s", user, err)
		return nil, err
	}
	glog.Warningf("Login of %q rejected: %s", user, err)
	return &api.Result{Message: msg, Reason: err}, nil
}

// rejectUnchecked rejects a login that never got to a password check. For
// unknown and ambiguous users a check against a dummy hash is made first.
func (pa *PhpBBAuth) rejectUnchecked(user string, password api.PasswordString, err error) (*api.Result, error) {
	if errors.Is(err, api.NoMatch) || errors.Is(err, api.AmbiguousIdentity) {
		pa.verifier.Check(string(password), pa.dummyHash, dummySubject)
	}
	return pa.reject(user, err)
}

// CanonicalName returns the name the wiki should file user under. IP
// addresses, which the wiki uses for anonymous editors, map to "". Names
// that match no phpBB user are returned unchanged.
func (pa *PhpBBAuth) CanonicalName(ctx context.Context, user string) (string, error) {
	if net.ParseIP(user) != nil {
		return "", nil
	}
	ctx, cancel, sess, err := pa.open(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	defer sess.Close()

	id, err := pa.resolver.Resolve(ctx, sess, user)
	switch {
	case err == nil:
		return id.Name, nil
	case errors.Is(err, api.NoMatch), errors.Is(err, api.AmbiguousIdentity):
		return user, nil
	}
	glog.Errorf("Canonical name lookup of %q failed: %s", user, err)
	return "", err
}

// UserExists reports whether user resolves to a phpBB account.
func (pa *PhpBBAuth) UserExists(ctx context.Context, user string) (bool, error) {
	ctx, cancel, sess, err := pa.open(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	defer sess.Close()

	_, err = pa.resolver.Resolve(ctx, sess, user)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, api.NoMatch), errors.Is(err, api.AmbiguousIdentity):
		return false, nil
	}
	glog.Errorf("Lookup of %q failed: %s", user, err)
	return false, err
}

func (pa *PhpBBAuth) Stop() {
	if err := pa.store.Close(); err != nil {
		glog.Warningf("Closing %s: %s", pa.store, err)
	}
}

func (pa *PhpBBAuth) Name() string {
	return fmt.Sprintf("phpBB (%s)", pa.store)
}
