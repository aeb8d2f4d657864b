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
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// phpBB's default cost.
const bcryptCost = 10

// bcrypt reads only the first 72 bytes; PHP silently truncates, newer
// x/crypto refuses longer input.
const bcryptMaxPassword = 72

type bcryptDriver struct {
	name     string
	prefixes []string
}

func (d *bcryptDriver) Name() string { return d.name }

func (d *bcryptDriver) Recognizes(hash string) bool {
	for _, p := range d.prefixes {
		if strings.HasPrefix(hash, p) {
			return true
		}
	}
	return false
}

func (d *bcryptDriver) Check(password, hash string, _ Subject) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncateBcrypt(password)) == nil
}

func (d *bcryptDriver) Hash(password string, _ Subject) (string, error) {
	h, err := bcrypt.GenerateFromPassword(truncateBcrypt(password), bcryptCost)
	if err != nil {
		return "", err
	}
	// $2a$ and $2y$ differ only in name.
	return d.prefixes[0] + string(h[4:]), nil
}

func truncateBcrypt(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptMaxPassword {
		b = b[:bcryptMaxPassword]
	}
	return b
}
