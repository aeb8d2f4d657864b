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

package utfclean

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mtibben/confusables"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// invisibles drops format characters (zero width spaces and joiners,
// direction marks, soft hyphens, the BOM) and turns every Unicode space
// into an ASCII one. Transformers keep state, make one per call.
func invisibles() transform.Transformer {
	return transform.Chain(
		runes.Remove(runes.In(unicode.Cf)),
		runes.Map(func(r rune) rune {
			if r != ' ' && unicode.In(r, unicode.Zs, unicode.Zl, unicode.Zp) {
				return ' '
			}
			return r
		}),
	)
}

// skeleton replaces characters that Unicode's confusables data lists as
// look-alikes with their prototype, e.g. Cyrillic "а" with Latin "a".
// ASCII is left alone, and so are Latin letters with diacritics.
func skeleton(s string) string {
	var sb strings.Builder
	changed := false
	for i, r := range s {
		p, ok := prototype(r)
		if !ok {
			if changed {
				sb.WriteRune(r)
			}
			continue
		}
		if !changed {
			sb.Grow(len(s))
			sb.WriteString(s[:i])
			changed = true
		}
		sb.WriteString(p)
	}
	if !changed {
		return s
	}
	return sb.String()
}

func prototype(r rune) (string, bool) {
	if r < utf8.RuneSelf {
		return "", false
	}
	d := norm.NFD.String(string(r))
	if d[0] < utf8.RuneSelf {
		return "", false
	}
	p := confusables.Skeleton(string(r))
	if p == d {
		return "", false
	}
	return norm.NFC.String(p), true
}
