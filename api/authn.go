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

package api

import (
	"context"
	"errors"
	"fmt"
)

// Authenticator checks wiki logins against the forum user database.
type Authenticator interface {
	// Given a user name and a password (plain text), responds with the result or an error.
	// Error should only be reported if request could not be serviced, not if it should be denied:
	// unknown users, wrong passwords and missing group membership all produce a
	// Result with Accepted == false and a nil error.
	// Implementations must be goroutine-safe.
	Authenticate(ctx context.Context, user string, password PasswordString) (*Result, error)

	// CanonicalName maps a login name to the name the wiki should use for it.
	// It never checks a password.
	CanonicalName(ctx context.Context, user string) (string, error)

	// Finalize resources in preparation for shutdown.
	// When this call is made there are guaranteed to be no Authenticate requests in flight
	// and there will be no more calls made to this instance.
	Stop()

	// Human-readable name of the authenticator.
	Name() string
}

// Reasons a login is denied. They end up in Result.Reason and are never
// returned as errors from Authenticate.
var (
	NoMatch           = errors.New("did not match any user")
	WrongPass         = errors.New("wrong password for user")
	NotAuthorized     = errors.New("user is not a member of a required group")
	AmbiguousIdentity = errors.New("more than one user matched the profile field")
)

// RealNamePlaceholder is handed to the wiki as the real name of every user,
// phpBB has no field to fill it from.
const RealNamePlaceholder = "I need to Update My Profile"

// Result is the outcome of one Authenticate call.
type Result struct {
	Accepted bool   `json:"accepted"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	RealName string `json:"real_name,omitempty"`
	Message  string `json:"message,omitempty"`

	// Reason is one of the sentinels above for rejected results.
	Reason error `json:"-"`
}

func (r Result) String() string {
	if r.Accepted {
		return fmt.Sprintf("{accepted %s (%d)}", r.Username, r.UserID)
	}
	return fmt.Sprintf("{rejected: %v}", r.Reason)
}

type PasswordString string

func (ps PasswordString) String() string {
	if len(ps) == 0 {
		return ""
	}
	return "***"
}
