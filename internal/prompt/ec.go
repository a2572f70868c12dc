// Package prompt turns Enzyme Commission codes into control-code token prefixes.
//
// An EC code has four dot-separated fields, each a non-negative integer or the
// wildcard "-" (for example "1.1.1.1" or "3.2.-.-"). The prompt is the code
// spelled character by character, followed by <sep> and <start>:
//
//	"1.1.1.-" -> 1 . 1 . 1 . - <sep> <start>
//
// Building a prompt is a pure function of the code string and the vocabulary.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCodeFormat reports an EC code that does not match the grammar.
var ErrInvalidCodeFormat = errors.New("invalid EC code format")

// Wildcard marks an unspecified EC field.
const Wildcard = "-"

// ECCode is a parsed EC classification code. Fields keep their original
// spelling (including leading zeros) so the code round-trips exactly.
type ECCode struct {
	fields [4]string
}

// ParseEC validates s against the EC grammar.
func ParseEC(s string) (ECCode, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ECCode{}, fmt.Errorf("%w: %q has %d fields, want 4", ErrInvalidCodeFormat, s, len(parts))
	}
	var code ECCode
	for i, p := range parts {
		if !validField(p) {
			return ECCode{}, fmt.Errorf("%w: %q field %d (%q) is neither an integer nor %q",
				ErrInvalidCodeFormat, s, i+1, p, Wildcard)
		}
		code.fields[i] = p
	}
	return code, nil
}

// MustParseEC is ParseEC for constants; it panics on error.
func MustParseEC(s string) ECCode {
	code, err := ParseEC(s)
	if err != nil {
		panic(err)
	}
	return code
}

func validField(f string) bool {
	if f == Wildcard {
		return true
	}
	if f == "" {
		return false
	}
	for _, r := range f {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String returns the code as written.
func (c ECCode) String() string {
	return strings.Join(c.fields[:], ".")
}

// Field returns field i (0-3).
func (c ECCode) Field(i int) string { return c.fields[i] }

// IsPartial reports whether any field is a wildcard.
func (c ECCode) IsPartial() bool {
	for _, f := range c.fields {
		if f == Wildcard {
			return true
		}
	}
	return false
}

// Matches reports whether other falls under c, treating wildcards in c as
// matching any value. Integer fields compare numerically so "01" matches "1".
func (c ECCode) Matches(other ECCode) bool {
	for i, f := range c.fields {
		if f == Wildcard {
			continue
		}
		if other.fields[i] == Wildcard || trimZeros(f) != trimZeros(other.fields[i]) {
			return false
		}
	}
	return true
}

func trimZeros(f string) string {
	t := strings.TrimLeft(f, "0")
	if t == "" {
		return "0"
	}
	return t
}
