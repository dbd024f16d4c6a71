/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package mapper implements the two deterministic object-id-to-path schemes
// the I/O Adapter uses to place an extent on a medium: clean (sanitise +
// truncate) and hash1 (two-level SHA-1 sharding). Both are pure functions;
// nothing here touches a filesystem.
package mapper

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/cea-hpc/phobos-go/pho"
)

// disallowed holds the punctuation the clean scheme folds to '_', on top of
// whitespace and non-printable runes (spec §4.1).
const disallowed = "`#$*?!|.;&<>[]{}'\"\\/"

func isReplaced(r rune) bool {
	if unicode.IsSpace(r) || !unicode.IsPrint(r) {
		return true
	}
	return strings.ContainsRune(disallowed, r)
}

// sanitize folds every disallowed rune of s to '_'. Input is first run
// through Unicode NFC normalization so visually identical object ids that
// arrive in different combining-character forms sanitize identically.
func sanitize(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isReplaced(r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanPath produces "<sanitised(objID)>.<extTag>", truncated so the total
// length is at most cap-1. Fails with pho.InvalidInput if objID or extTag is
// empty, or if cap can't even hold the tag and separator.
func CleanPath(objID, extTag string, cap int) (string, error) {
	if objID == "" || extTag == "" {
		return "", pho.New(pho.InvalidInput, "clean_path: object id and extent tag must be non-empty")
	}
	if cap < len(extTag)+2 {
		return "", pho.New(pho.InvalidInput, fmt.Sprintf("clean_path: cap %d too small for tag %q", cap, extTag))
	}
	clean := sanitize(objID)
	out := clean + "." + extTag
	if len(out) > cap-1 {
		// keep the tag intact, truncate the sanitised id from the left of
		// the join point
		maxID := cap - 1 - 1 - len(extTag) // cap-1 minus '.' minus tag
		if maxID < 0 {
			maxID = 0
		}
		if maxID > len(clean) {
			maxID = len(clean)
		}
		out = clean[:maxID] + "." + extTag
	}
	return out, nil
}

// Hash1 computes SHA1(objID) (the tag is not folded into the hash — see
// DESIGN.md's open question decisions), takes the first two bytes in hex as
// two directory levels, and appends CleanPath's output: "XX/YY/<clean>".
func Hash1(objID, extTag string, cap int) (string, error) {
	if objID == "" || extTag == "" {
		return "", pho.New(pho.InvalidInput, "hash1: object id and extent tag must be non-empty")
	}
	if cap < 8+len(extTag)+2 {
		return "", pho.New(pho.InvalidInput, fmt.Sprintf("hash1: cap %d too small for tag %q", cap, extTag))
	}
	sum := sha1.Sum([]byte(objID))
	prefix := fmt.Sprintf("%02x/%02x/", sum[0], sum[1]) // 6 bytes, "XX/YY/"
	clean, err := CleanPath(objID, extTag, cap-len(prefix))
	if err != nil {
		return "", err
	}
	return prefix + clean, nil
}
