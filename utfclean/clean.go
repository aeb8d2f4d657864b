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

// Package utfclean turns user names into the form phpBB stores in
// username_clean, so that names typed at the wiki login find the same row
// the forum would.
//
// phpBB's utf8_clean_string case folds, applies NFKC, maps homographs to a
// common skeleton using Unicode's confusables data, drops control characters
// and squeezes spaces. Clean does the same steps in the same order.
package utfclean

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrMalformed is returned for input that is not valid UTF-8.
// Such a name can never match a row, callers treat it as a miss.
var ErrMalformed = errors.New("utfclean: malformed UTF-8")

// Clean returns the comparable form of a user name.
func Clean(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrMalformed
	}
	s = CaseFoldNFKC(s)
	s, _, err := transform.String(invisibles(), s)
	if err != nil {
		return "", err
	}
	// Prototypes are not folded.
	if sk := skeleton(s); sk != s {
		s = CaseFoldNFKC(sk)
	}
	s = stripControls(s)
	s = squeezeSpaces(s)
	return strings.Trim(s, " "), nil
}

// CaseFoldNFKC applies full case folding followed by NFKC. The second round
// catches characters whose NFKC form folds again, the closure phpBB gets
// from its FC_NFKC_Closure table.
func CaseFoldNFKC(s string) string {
	// A Caser keeps state, so it is not shared between calls.
	fold := cases.Fold()
	s = norm.NFKC.String(fold.String(s))
	return norm.NFKC.String(fold.String(s))
}

// stripControls removes C0 controls, DEL and C1 controls.
func stripControls(s string) string {
	if strings.IndexFunc(s, isControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, s)
}

func isControl(r rune) bool {
	return r < 0x20 || (r >= 0x7f && r <= 0x9f)
}

func squeezeSpaces(s string) string {
	if !strings.Contains(s, "  ") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
