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

package passwords

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// PHP's password_hash defaults.
const (
	argon2Memory  uint32 = 64 * 1024
	argon2Time    uint32 = 4
	argon2Threads uint8  = 1
	argon2SaltLen        = 16
	argon2KeyLen         = 32
)

// argon2Driver handles PHC strings as written by PHP's password_hash, e.g.
// $argon2id$v=19$m=65536,t=4,p=1$<salt>$<key>.
type argon2Driver struct {
	name string
	id   bool
}

type phcHash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (d *argon2Driver) Name() string { return d.name }

func (d *argon2Driver) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, "$"+d.name+"$")
}

func (d *argon2Driver) Check(password, hash string, _ Subject) bool {
	p, err := parsePHC(d.name, hash)
	if err != nil {
		return false
	}
	computed := d.key([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1
}

func (d *argon2Driver) Hash(password string, _ Subject) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := d.key([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		d.name, argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func (d *argon2Driver) key(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte {
	if d.id {
		return argon2.IDKey(password, salt, time, memory, threads, keyLen)
	}
	return argon2.Key(password, salt, time, memory, threads, keyLen)
}

func parsePHC(algorithm, hash string) (*phcHash, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithm {
		return nil, errors.New("invalid PHC format")
	}
	// Only version 0x13 is implemented by x/crypto.
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return nil, errors.New("unsupported argon2 version")
	}
	p := &phcHash{}
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid argon2 parameter %q", kv)
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, err
			}
			p.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return nil, err
			}
			p.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil {
				return nil, err
			}
			p.threads = uint8(n)
		default:
			return nil, fmt.Errorf("unknown argon2 parameter %q", k)
		}
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return nil, errors.New("missing argon2 parameters")
	}
	var err error
	if p.salt, err = decodePHC(parts[4]); err != nil {
		return nil, err
	}
	if p.key, err = decodePHC(parts[5]); err != nil {
		return nil, err
	}
	if len(p.key) == 0 {
		return nil, errors.New("empty argon2 key")
	}
	return p, nil
}

// decodePHC accepts both unpadded (PHC, PHP) and padded base64.
func decodePHC(s string) ([]byte, error) {
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
