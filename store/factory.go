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
	"fmt"
	"sort"
	"sync"

	"github.com/cesanta/glog"
)

// Factory creates a Store from a validated configuration.
type Factory func(c *Config) (Store, error)

var (
	factoriesLock sync.RWMutex
	// factories stores an internal mapping between backend names
	// and their respective factories
	factories = make(map[string]Factory)
)

// Register adds a backend factory. Backends call it from init().
func Register(name string, factory Factory) {
	factoriesLock.Lock()
	defer factoriesLock.Unlock()
	if factory == nil {
		glog.Fatalf("Nil factory provided for store backend '%s'", name)
	}
	if _, exists := factories[name]; exists {
		glog.Fatalf("Store backend '%s' already exists", name)
	}
	factories[name] = factory
}

// Backends lists the registered backend names.
func Backends() []string {
	factoriesLock.RLock()
	defer factoriesLock.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the store selected by c.Backend.
func New(c *Config) (Store, error) {
	factoriesLock.RLock()
	factory, exists := factories[c.Backend]
	factoriesLock.RUnlock()
	if !exists {
		return nil, fmt.Errorf("store backend '%s' not registered (have %v)", c.Backend, Backends())
	}
	return factory(c)
}
