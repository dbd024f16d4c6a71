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
package mapper

import (
	"strings"
	"testing"
)

func TestCleanPathSanitizes(t *testing.T) {
	out, err := CleanPath("my file;1", "p2", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "my_file_1.p2" {
		t.Fatalf("got %q, want %q", out, "my_file_1.p2")
	}
}

func TestCleanPathEmptyInputs(t *testing.T) {
	if _, err := CleanPath("", "tag", 256); err == nil {
		t.Fatal("expected error for empty object id")
	}
	if _, err := CleanPath("oid", "", 256); err == nil {
		t.Fatal("expected error for empty extent tag")
	}
}

func TestCleanPathCapTooSmall(t *testing.T) {
	if _, err := CleanPath("oid", "tag", len("tag")+1); err == nil {
		t.Fatal("expected error for cap < len(ext_tag)+2")
	}
}

func TestCleanPathTruncates(t *testing.T) {
	longID := strings.Repeat("a", 100)
	out, err := CleanPath(longID, "p0", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) > 19 {
		t.Fatalf("result %q longer than cap-1=19", out)
	}
	if !strings.HasSuffix(out, ".p0") {
		t.Fatalf("result %q must keep the tag intact", out)
	}
}

func TestHash1KnownVector(t *testing.T) {
	out, err := Hash1("abc", "p0", 256)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "a9/99/") {
		t.Fatalf("got %q, want prefix a9/99/", out)
	}
	if !strings.HasSuffix(out, "abc.p0") {
		t.Fatalf("got %q, want suffix abc.p0", out)
	}
}

func TestHash1Idempotent(t *testing.T) {
	a, err := Hash1("some-object-id", "p1", 256)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Hash1("some-object-id", "p1", 256)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("hash1 not deterministic: %q vs %q", a, b)
	}
}

func TestHash1CapTooSmall(t *testing.T) {
	if _, err := Hash1("oid", "tag", 8+len("tag")+1); err == nil {
		t.Fatal("expected error for cap < 8+len(ext_tag)+2")
	}
}

func TestCleanPathNoDisallowedChars(t *testing.T) {
	out, err := CleanPath("weird`#$*?!|.;&<>[]{}'\"\\/name \t\n", "tag", 256)
	if err != nil {
		t.Fatal(err)
	}
	clean := strings.TrimSuffix(out, ".tag")
	for _, r := range clean {
		if strings.ContainsRune(disallowed, r) || r == ' ' || r == '\t' || r == '\n' {
			t.Fatalf("disallowed rune %q survived sanitisation in %q", r, out)
		}
	}
}
