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
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/dchest/uniuri"
)

const itoa64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Iteration count of new hashes, as a power of two.
const portableCountLog2 = 10

// portableDriver implements the phpass portable scheme phpBB 3.0 used:
// $H$ or $P$, one itoa64 character for the iteration count, eight salt
// characters and 22 characters of encoded MD5, 34 in total.
type portableDriver struct {
	name   string
	prefix string
}

func (d *portableDriver) Name() string { return d.name }

func (d *portableDriver) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, d.prefix)
}

func (d *portableDriver) Check(password, hash string, _ Subject) bool {
	if len(hash) != 34 {
		return false
	}
	computed := portableHash(password, hash)
	return computed != "" && subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

func (d *portableDriver) Hash(password string, _ Subject) (string, error) {
	setting := d.prefix + string(itoa64[portableCountLog2]) + uniuri.NewLenChars(8, []byte(itoa64))
	h := portableHash(password, setting)
	if h == "" {
		return "", errors.New("phpass: invalid setting")
	}
	return h, nil
}

// portableHash hashes password with the prefix, count and salt taken from
// the first twelve characters of setting. Returns "" for a bad setting.
func portableHash(password, setting string) string {
	if len(setting) < 12 {
		return ""
	}
	countLog2 := strings.IndexByte(itoa64, setting[3])
	if countLog2 < 7 || countLog2 > 30 {
		return ""
	}
	salt := setting[4:12]
	sum := md5.Sum([]byte(salt + password))
	hash := sum[:]
	for count := 1 << countLog2; count > 0; count-- {
		sum = md5.Sum(append(hash, password...))
		hash = sum[:]
	}
	return setting[:12] + encode64(hash)
}

// encode64 is phpass's little-endian base64 over itoa64.
func encode64(in []byte) string {
	var sb strings.Builder
	n := len(in)
	for i := 0; i < n; {
		v := uint(in[i])
		i++
		sb.WriteByte(itoa64[v&0x3f])
		if i < n {
			v |= uint(in[i]) << 8
		}
		sb.WriteByte(itoa64[(v>>6)&0x3f])
		if i >= n {
			break
		}
		i++
		if i < n {
			v |= uint(in[i]) << 16
		}
		sb.WriteByte(itoa64[(v>>12)&0x3f])
		if i >= n {
			break
		}
		i++
		sb.WriteByte(itoa64[(v>>18)&0x3f])
	}
	return sb.String()
}
