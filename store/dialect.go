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
	"strconv"
	"strings"
)

// Dialect knows how a driver quotes identifiers and numbers placeholders.
// Queries are written with '?' placeholders and rebound for the driver.
type Dialect struct {
	quote    string
	numbered bool
}

func DialectFor(driver string) Dialect {
	switch driver {
	case "postgres":
		return Dialect{quote: `"`, numbered: true}
	default:
		return Dialect{quote: "`"}
	}
}

// Quote quotes a validated identifier, which may be schema-qualified.
func (d Dialect) Quote(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = d.quote + p + d.quote
	}
	return strings.Join(parts, ".")
}

// Rebind rewrites '?' placeholders into the driver's syntax.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
