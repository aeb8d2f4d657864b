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
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/dchest/uniuri"
	"golang.org/x/text/encoding/charmap"
)

// Formats imported by the phpBB converters. None of them should be used for
// new hashes; Hash exists so that fixtures and the hash command can produce
// them.

const legacySaltLen = 8

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// salted splits "$prefix$salt$digest".
func salted(hash, prefix string) (salt, digest string, ok bool) {
	rest, found := strings.CutPrefix(hash, prefix)
	if !found {
		return "", "", false
	}
	salt, digest, ok = strings.Cut(rest, "$")
	if !ok || salt == "" || digest == "" {
		return "", "", false
	}
	return salt, digest, true
}

// toCP1252 returns the Windows-1252 bytes of s, as phpBB 2 and older
// converters stored them.
func toCP1252(s string) (string, bool) {
	b, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil {
		return "", false
	}
	return b, true
}

var htmlSpecialChars = strings.NewReplacer("&", "&amp;", "\"", "&quot;", "<", "&lt;", ">", "&gt;")

// convertPassword is "$CP$" followed by the MD5 of the CP1252 password.
type convertPassword struct{}

func (convertPassword) Name() string { return "convert_password" }

func (convertPassword) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$CP$") }

func (convertPassword) Check(password, hash string, _ Subject) bool {
	digest := strings.TrimPrefix(hash, "$CP$")
	if cp, ok := toCP1252(password); ok && equal(md5Hex(cp), digest) {
		return true
	}
	return equal(md5Hex(password), digest)
}

func (convertPassword) Hash(password string, _ Subject) (string, error) {
	cp, ok := toCP1252(password)
	if !ok {
		cp = password
	}
	return "$CP$" + md5Hex(cp), nil
}

// sha1SMF is Simple Machines Forum's sha1(lower(login) . password).
type sha1SMF struct{}

func (sha1SMF) Name() string { return "sha1_smf" }

func (sha1SMF) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$smf$") }

func (sha1SMF) Check(password, hash string, s Subject) bool {
	if s.LoginName == "" {
		return false
	}
	return equal("$smf$"+sha1Hex(strings.ToLower(s.LoginName)+password), hash)
}

func (sha1SMF) Hash(password string, s Subject) (string, error) {
	if s.LoginName == "" {
		return "", errors.New("sha1_smf: login name required")
	}
	return "$smf$" + sha1Hex(strings.ToLower(s.LoginName)+password), nil
}

type sha1Plain struct{}

func (sha1Plain) Name() string { return "sha1" }

func (sha1Plain) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$sha1$") }

func (sha1Plain) Check(password, hash string, _ Subject) bool {
	return equal("$sha1$"+sha1Hex(password), hash)
}

func (sha1Plain) Hash(password string, _ Subject) (string, error) {
	return "$sha1$" + sha1Hex(password), nil
}

// sha1WCF1 is WoltLab Community Framework 1.x.
type sha1WCF1 struct{}

func (sha1WCF1) Name() string { return "sha1_wcf1" }

func (sha1WCF1) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$wcf1$") }

func (sha1WCF1) Check(password, hash string, _ Subject) bool {
	salt, digest, ok := salted(hash, "$wcf1$")
	return ok && equal(wcf1(password, salt), digest)
}

func (sha1WCF1) Hash(password string, _ Subject) (string, error) {
	salt := uniuri.NewLen(legacySaltLen)
	return "$wcf1$" + salt + "$" + wcf1(password, salt), nil
}

func wcf1(password, salt string) string {
	return sha1Hex(salt + sha1Hex(salt+sha1Hex(password)))
}

type md5MyBB struct{}

func (md5MyBB) Name() string { return "md5_mybb" }

func (md5MyBB) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$md5_mybb$") }

func (md5MyBB) Check(password, hash string, _ Subject) bool {
	salt, digest, ok := salted(hash, "$md5_mybb$")
	return ok && equal(md5Hex(md5Hex(salt)+md5Hex(password)), digest)
}

func (md5MyBB) Hash(password string, _ Subject) (string, error) {
	salt := uniuri.NewLen(legacySaltLen)
	return "$md5_mybb$" + salt + "$" + md5Hex(md5Hex(salt)+md5Hex(password)), nil
}

// md5VB is vBulletin's md5(md5(password) . salt).
type md5VB struct{}

func (md5VB) Name() string { return "md5_vb" }

func (md5VB) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$md5_vb$") }

func (md5VB) Check(password, hash string, _ Subject) bool {
	salt, digest, ok := salted(hash, "$md5_vb$")
	return ok && equal(md5Hex(md5Hex(password)+salt), digest)
}

func (md5VB) Hash(password string, _ Subject) (string, error) {
	salt := uniuri.NewLen(legacySaltLen)
	return "$md5_vb$" + salt + "$" + md5Hex(md5Hex(password)+salt), nil
}

// md5PhpBB2 is an unsalted MD5 from phpBB 2. Depending on the board the
// password was HTML-escaped or stored in CP1252 before hashing.
type md5PhpBB2 struct{}

func (md5PhpBB2) Name() string { return "md5_phpbb2" }

func (md5PhpBB2) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$md5_phpbb2$") }

func (md5PhpBB2) Check(password, hash string, _ Subject) bool {
	digest := strings.TrimPrefix(hash, "$md5_phpbb2$")
	if equal(md5Hex(password), digest) {
		return true
	}
	if escaped := htmlSpecialChars.Replace(password); escaped != password && equal(md5Hex(escaped), digest) {
		return true
	}
	cp, ok := toCP1252(password)
	return ok && cp != password && equal(md5Hex(cp), digest)
}

func (md5PhpBB2) Hash(password string, _ Subject) (string, error) {
	return "$md5_phpbb2$" + md5Hex(password), nil
}

// shaXF1 is XenForo 1.x: sha256 or sha1 of hex(hash(password)) . salt.
type shaXF1 struct{}

func (shaXF1) Name() string { return "sha_xf1" }

func (shaXF1) Recognizes(hash string) bool { return strings.HasPrefix(hash, "$xf1$") }

func (shaXF1) Check(password, hash string, _ Subject) bool {
	salt, digest, ok := salted(hash, "$xf1$")
	if !ok {
		return false
	}
	switch len(digest) {
	case sha256.Size * 2:
		return equal(sha256Hex(sha256Hex(password)+salt), digest)
	case sha1.Size * 2:
		return equal(sha1Hex(sha1Hex(password)+salt), digest)
	}
	return false
}

func (shaXF1) Hash(password string, _ Subject) (string, error) {
	salt := uniuri.NewLen(legacySaltLen)
	return "$xf1$" + salt + "$" + sha256Hex(sha256Hex(password)+salt), nil
}

// md5Plain is a bare 32 digit hex MD5, as early phpBB 3 imports left behind.
type md5Plain struct{}

func (md5Plain) Name() string { return "md5" }

func (md5Plain) Recognizes(hash string) bool {
	if len(hash) != md5.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func (md5Plain) Check(password, hash string, _ Subject) bool {
	return equal(md5Hex(password), strings.ToLower(hash))
}

func (md5Plain) Hash(password string, _ Subject) (string, error) {
	return md5Hex(password), nil
}
