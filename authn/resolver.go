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

package authn

import (
	"context"
	"errors"
	"fmt"

	"github.com/cesanta/glog"

	"github.com/cesanta/phpbb_auth/api"
	"github.com/cesanta/phpbb_auth/store"
	"github.com/cesanta/phpbb_auth/utfclean"
	"github.com/cesanta/phpbb_auth/utils"
)

// Identity is a phpBB user a login name resolved to.
type Identity struct {
	ID int64
	// Name is the name the wiki should use, first letter upper-cased.
	Name string
}

// Resolver maps login names to phpBB users: first by clean username, then,
// if enabled, by the wiki username profile field.
type Resolver struct {
	CanonicalCase bool
	UseProfile    bool
}

// Resolve returns api.NoMatch when the name matches nobody and
// api.AmbiguousIdentity when it matches several profiles. Any other error
// comes from the store.
func (r *Resolver) Resolve(ctx context.Context, sess store.Session, raw string) (*Identity, error) {
	if raw == "" {
		return nil, api.NoMatch
	}
	clean, err := utfclean.Clean(raw)
	if err != nil {
		glog.V(2).Infof("Login name %q is not valid UTF-8", raw)
		return nil, api.NoMatch
	}

	var id Identity
	u, err := sess.FindUser(ctx, clean, r.CanonicalCase)
	switch {
	case err == nil:
		glog.V(2).Infof("Found phpBB user %q with user_id %d", raw, u.ID)
		id = Identity{ID: u.ID, Name: u.Name}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	case !r.UseProfile:
		glog.V(2).Infof("No phpBB username matched %q", raw)
		return nil, api.NoMatch
	default:
		owner, err := r.profileOwner(ctx, sess, raw)
		if err != nil {
			return nil, err
		}
		id.ID = owner
	}

	if r.UseProfile {
		profile, err := sess.ProfileValue(ctx, id.ID)
		if err != nil {
			return nil, err
		}
		if profile != "" {
			glog.V(2).Infof("user_id %d has a wiki profile of %q", id.ID, profile)
			id.Name = profile
		}
	}
	id.Name = utils.UpperFirst(id.Name)
	return &id, nil
}

func (r *Resolver) profileOwner(ctx context.Context, sess store.Session, raw string) (int64, error) {
	ids, err := sess.ProfileOwners(ctx, raw)
	if err != nil {
		return 0, err
	}
	switch len(ids) {
	case 0:
		glog.V(2).Infof("No phpBB username or wiki profile matched %q", raw)
		return 0, api.NoMatch
	case 1:
		glog.V(2).Infof("Found wiki profile %q with user_id %d", raw, ids[0])
		return ids[0], nil
	}
	glog.Errorf("Duplicate wiki profiles found with value %q: user_ids %v", raw, ids)
	return 0, fmt.Errorf("%w: %d users", api.AmbiguousIdentity, len(ids))
}
