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

// Package store is the read-only view of the phpBB user database.
//
// A Store hands out one Session per authentication attempt. A Session holds
// whatever connection the backend needs and must be closed by the caller;
// nothing is shared between sessions and nothing is ever written.
package store

import (
	"context"
	"errors"

	"github.com/cesanta/phpbb_auth/api"
)

var (
	ErrNotFound = errors.New("store: not found")
)

// UserTypeInactive is the phpBB user_type that can never log in to the wiki.
const UserTypeInactive = 1

// User is a row found by the clean username.
type User struct {
	ID int64
	// Name is either username_clean or username, depending on the lookup.
	Name string
}

// Credentials are the fields needed to check a password.
type Credentials struct {
	PasswordHash string
	Email        string
	CleanName    string
}

type UserQuerier interface {
	// FindUser looks a user up by username_clean. When canonicalCase is set the
	// returned name comes from the username column, otherwise from username_clean.
	// Returns ErrNotFound if there is no such user.
	FindUser(ctx context.Context, cleanName string, canonicalCase bool) (*User, error)

	// Credentials loads the password hash and email of userID, skipping
	// accounts of type UserTypeInactive. Returns ErrNotFound if there is no such user.
	Credentials(ctx context.Context, userID int64) (*Credentials, error)
}

type ProfileQuerier interface {
	// ProfileOwners returns the ids of all users whose profile field matches
	// value case-insensitively.
	ProfileOwners(ctx context.Context, value string) ([]int64, error)

	// ProfileValue returns the profile field of userID, "" if it is unset.
	ProfileValue(ctx context.Context, userID int64) (string, error)
}

// Session is a scoped connection to the user database.
// Sessions are not goroutine-safe; use one per call.
type Session interface {
	UserQuerier
	ProfileQuerier
	api.GroupQuerier

	// Close releases the session's connection. It is safe to call more than once.
	Close() error
}

// Store defines methods that a user database backend must implement.
// Implementations must be goroutine-safe.
type Store interface {
	// Open acquires a session. The context bounds the acquisition and every
	// query made through the session.
	Open(ctx context.Context) (Session, error)
	String() string
	Close() error
}
