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
package pho

// Kind is the abstract error taxonomy from the error handling design: callers
// match on these with errors.Is, never on string messages.
type Kind int

const (
	_ Kind = iota
	InvalidInput
	NotFound
	IoFailed
	ShortWrite
	HashMismatch
	Unsupported
	NoSpace
	ReadOnlyMedium
	QuotaExceeded
	NoRouteToObject
	TryAgain
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case IoFailed:
		return "io_failed"
	case ShortWrite:
		return "short_write"
	case HashMismatch:
		return "hash_mismatch"
	case Unsupported:
		return "unsupported"
	case NoSpace:
		return "no_space"
	case ReadOnlyMedium:
		return "read_only_medium"
	case QuotaExceeded:
		return "quota_exceeded"
	case NoRouteToObject:
		return "no_route_to_object"
	case TryAgain:
		return "try_again"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an abstract Kind with a human-readable message and an optional
// underlying cause, so the same value supports
// errors.Is(err, pho.Sentinel(pho.HashMismatch))
// and a readable %v/%s for operators.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, pho.Sentinel(SomeKind)) work without comparing
// messages or causes.
func (e *Error) Is(target error) bool {
	if k, ok := target.(*kindSentinel); ok {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (s *kindSentinel) Error() string { return s.kind.String() }

// Sentinel returns a value usable as the target of errors.Is to test an
// Error's Kind, e.g. errors.Is(err, pho.Sentinel(pho.HashMismatch)).
func Sentinel(k Kind) error { return &kindSentinel{kind: k} }

// Wrap builds an *Error, analogous to fmt.Errorf("...: %w", cause) but
// carrying the abstract Kind the scheduler protocol (spec §7) needs.
func Wrap(k Kind, message string, cause error) error {
	return &Error{Kind: k, Message: message, Cause: cause}
}

// New builds an *Error with no underlying cause.
func New(k Kind, message string) error {
	return &Error{Kind: k, Message: message}
}
