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

package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/cesanta/glog"

	"github.com/cesanta/phpbb_auth/api"
)

// GroupAuthzConfig lists the phpBB groups whose members may use the wiki.
type GroupAuthzConfig struct {
	Enabled bool       `yaml:"use_wiki_group"`
	Groups  GroupNames `yaml:"wiki_group_name,flow"`
}

// GroupNames is one group name or a list of them.
type GroupNames []string

func (g *GroupNames) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var one string
	if err := unmarshal(&one); err == nil {
		*g = GroupNames{one}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*g = many
	return nil
}

func (c *GroupAuthzConfig) Validate(configKey string) error {
	if !c.Enabled {
		return nil
	}
	if len(c.Groups) == 0 {
		return fmt.Errorf("%s.wiki_group_name is required when use_wiki_group is set", configKey)
	}
	for i, g := range c.Groups {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("%s.wiki_group_name[%d] is empty", configKey, i)
		}
	}
	return nil
}

type groupAuthorizer struct {
	groups []string
}

// NewGroupAuthorizer returns an authorizer that admits members of any of
// the configured groups. Pending memberships do not count. With group
// checks disabled every user is admitted.
func NewGroupAuthorizer(c *GroupAuthzConfig) api.Authorizer {
	if c == nil || !c.Enabled {
		return openAuthorizer{}
	}
	return &groupAuthorizer{groups: c.Groups}
}

func (ga *groupAuthorizer) Authorize(ctx context.Context, q api.GroupQuerier, userID int64) (bool, error) {
	for _, name := range ga.groups {
		groupID, err := q.GroupID(ctx, name)
		if err != nil {
			return false, fmt.Errorf("looking up group %q: %w", name, err)
		}
		if groupID == api.NoGroup {
			glog.Warningf("Wiki group %q does not exist", name)
			continue
		}
		n, err := q.CountMemberships(ctx, userID, groupID)
		if err != nil {
			return false, fmt.Errorf("checking membership of %d in %q: %w", userID, name, err)
		}
		if n > 0 {
			glog.V(2).Infof("User %d is a member of %q", userID, name)
			return true, nil
		}
	}
	glog.V(2).Infof("User %d is not a member of any of %v", userID, ga.groups)
	return false, nil
}

func (ga *groupAuthorizer) Name() string {
	return fmt.Sprintf("phpBB groups %v", ga.groups)
}

type openAuthorizer struct{}

func (openAuthorizer) Authorize(context.Context, api.GroupQuerier, int64) (bool, error) {
	return true, nil
}

func (openAuthorizer) Name() string {
	return "open"
}
