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

// Package passwords checks passwords against the hashes phpBB keeps in
// user_password.
//
// A board that has been running for long enough holds hashes from every
// scheme phpBB ever used, plus whatever the converters imported from other
// forums. The hash format is sniffed from its prefix; callers never pick a
// scheme.
package passwords

import (
	"fmt"

	"github.com/cesanta/glog"
)

// MaxPasswordLen is the longest password, in bytes, that is ever hashed.
// Longer ones never match.
const MaxPasswordLen = 4096

// Subject carries the parts of the user row some legacy schemes mix into
// the hash.
type Subject struct {
	// LoginName is the user's login name, used by the SMF scheme.
	LoginName string
}

// Driver recognizes and checks one hash format.
// Implementations must be goroutine-safe.
type Driver interface {
	// Name is the phpBB driver name, e.g. "bcrypt_2y".
	Name() string
	// Recognizes reports whether hash is in this driver's format.
	Recognizes(hash string) bool
	// Check reports whether password matches hash.
	Check(password, hash string, subject Subject) bool
	// Hash produces a new hash in this driver's format.
	Hash(password string, subject Subject) (string, error)
}

// Drivers returns every supported driver in lookup order: memory-hard
// schemes first, then bcrypt, then phpBB's own salted MD5, then the formats
// converted from other forum software.
func Drivers() []Driver {
	return []Driver{
		&argon2Driver{name: "argon2id", id: true},
		&argon2Driver{name: "argon2i"},
		&bcryptDriver{name: "bcrypt_2y", prefixes: []string{"$2y$"}},
		&bcryptDriver{name: "bcrypt", prefixes: []string{"$2a$", "$2b$", "$2x$"}},
		&portableDriver{name: "salted_md5", prefix: "$H$"},
		&portableDriver{name: "phpass", prefix: "$P$"},
		convertPassword{},
		sha1SMF{},
		sha1Plain{},
		sha1WCF1{},
		md5MyBB{},
		md5VB{},
		md5PhpBB2{},
		shaXF1{},
		md5Plain{},
	}
}

// Manager tries its drivers in order and uses the first that recognizes a hash.
type Manager struct {
	drivers []Driver
}

func NewManager(drivers ...Driver) *Manager {
	return &Manager{drivers: drivers}
}

// NewManagerFor builds a manager with the named drivers, kept in lookup
// order. No names means all drivers.
func NewManagerFor(names []string) (*Manager, error) {
	all := Drivers()
	if len(names) == 0 {
		return NewManager(all...), nil
	}
	want := make(map[string]bool)
	for _, n := range names {
		want[n] = true
	}
	var drivers []Driver
	for _, d := range all {
		if want[d.Name()] {
			drivers = append(drivers, d)
			delete(want, d.Name())
		}
	}
	for n := range want {
		return nil, fmt.Errorf("unknown password driver %q", n)
	}
	return NewManager(drivers...), nil
}

// DriverFor returns the driver that recognizes hash, or nil.
func (m *Manager) DriverFor(hash string) Driver {
	for _, d := range m.drivers {
		if d.Recognizes(hash) {
			return d
		}
	}
	return nil
}

// Driver returns the driver with the given name, or nil.
func (m *Manager) Driver(name string) Driver {
	for _, d := range m.drivers {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

func (m *Manager) Names() []string {
	names := make([]string, len(m.drivers))
	for i, d := range m.drivers {
		names[i] = d.Name()
	}
	return names
}

// Check reports whether password matches hash. Empty or overlong
// passwords, empty hashes and unrecognized formats never match.
func (m *Manager) Check(password, hash string, subject Subject) bool {
	if password == "" || hash == "" {
		return false
	}
	if len(password) > MaxPasswordLen {
		glog.V(2).Infof("Password of %q is longer than %d bytes", subject.LoginName, MaxPasswordLen)
		return false
	}
	d := m.DriverFor(hash)
	if d == nil {
		glog.V(2).Infof("No password driver recognizes the stored hash of %q", subject.LoginName)
		return false
	}
	glog.V(3).Infof("Checking password of %q with %s", subject.LoginName, d.Name())
	return d.Check(password, hash, subject)
}

// Hash hashes password with the named driver.
func (m *Manager) Hash(name, password string, subject Subject) (string, error) {
	d := m.Driver(name)
	if d == nil {
		return "", fmt.Errorf("unknown password driver %q", name)
	}
	return d.Hash(password, subject)
}
