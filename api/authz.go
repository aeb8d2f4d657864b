/*
   Copyright 2019 Cesanta Software Ltd.

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
)

// GroupQuerier is the part of a store session the group authorizer needs.
type GroupQuerier interface {
	// GroupID returns the id of the named group, or NoGroup if there is none.
	GroupID(ctx context.Context, name string) (int64, error)
	// CountMemberships counts non-pending memberships of userID in groupID.
	CountMemberships(ctx context.Context, userID, groupID int64) (int64, error)
}

// NoGroup is the group id of a group name that does not exist.
// No membership row can reference it.
const NoGroup int64 = -1

// Authorizer is invoked after authentication so it can be assumed that the
// user has presented satisfactory credentials.
// Principally, it answers the question: is this user allowed to use the wiki?
type Authorizer interface {
	// Authorize reports whether userID may log in.
	// Error should only be reported if request could not be serviced, not if it should be denied.
	// Implementations must be goroutine-safe.
	Authorize(ctx context.Context, q GroupQuerier, userID int64) (bool, error)

	// Human-readable name of the authorizer.
	Name() string
}
