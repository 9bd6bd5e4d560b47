// Package ident builds SQL identifiers that are safe to splice into DDL and DML.
//
// Every table and column name that reaches the database passes through this
// package. Data values never do; they are always bound parameters.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is the PostgreSQL identifier limit (NAMEDATALEN - 1).
const MaxLength = 63

// ErrInvalid is returned when a name is not a valid sanitized identifier.
var ErrInvalid = errors.New("invalid identifier")

var validName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Ident is a validated, lower-case SQL identifier.
type Ident string

// New validates name and returns it as an Ident.
func New(name string) (Ident, error) {
	if len(name) == 0 || len(name) > MaxLength || !validName.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, name)
	}
	return Ident(name), nil
}

// MustNew is like New but panics on invalid input.
func MustNew(name string) Ident {
	id, err := New(name)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the bare identifier.
func (i Ident) String() string {
	return string(i)
}

// Quote returns the identifier in double quotes.
func (i Ident) Quote() string {
	return `"` + strings.ReplaceAll(string(i), `"`, `""`) + `"`
}

// Qualified is a schema-qualified table name.
type Qualified struct {
	Schema Ident
	Name   Ident
}

// Qualify pairs a schema with a table name.
func Qualify(schema, name Ident) Qualified {
	return Qualified{Schema: schema, Name: name}
}

// Quote returns "schema"."name", or just "name" when no schema is set.
func (q Qualified) Quote() string {
	if q.Schema == "" {
		return q.Name.Quote()
	}
	return q.Schema.Quote() + "." + q.Name.Quote()
}

// String returns schema.name without quoting, for logs.
func (q Qualified) String() string {
	if q.Schema == "" {
		return q.Name.String()
	}
	return q.Schema.String() + "." + q.Name.String()
}

// Sanitize maps arbitrary text to an identifier: every character outside
// [a-z0-9_] becomes '_', runs of '_' collapse, trailing '_' is trimmed and a
// leading digit gets a "t_" prefix. The result is never empty.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false
	for _, r := range strings.ToLower(raw) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			if lastUnderscore {
				continue
			}
			b.WriteByte('_')
			lastUnderscore = true
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}

	s := strings.TrimRight(b.String(), "_")
	if s == "" {
		return "col"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "t_" + s
	}
	return s
}

// Truncate cuts s to at most n bytes and drops any trailing '_' left behind.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], "_")
}

// digestLength is the number of hex digits of the base name's digest kept
// in shortened derived names.
const digestLength = 8

// WithSuffix joins base and suffix with '_'. When the result would exceed
// MaxLength, base is shortened and a digest of the full base is inserted
// before the suffix, so distinct bases keep distinct derived names.
func WithSuffix(base Ident, suffix string) (Ident, error) {
	suffix = Sanitize(suffix)
	if len(base)+1+len(suffix) <= MaxLength {
		return New(string(base) + "_" + suffix)
	}

	room := MaxLength - len(suffix) - digestLength - 2
	if room < 1 {
		return "", fmt.Errorf("%w: suffix %q too long", ErrInvalid, suffix)
	}
	sum := sha256.Sum256([]byte(base))
	digest := hex.EncodeToString(sum[:])[:digestLength]
	return New(Truncate(string(base), room) + "_" + digest + "_" + suffix)
}
