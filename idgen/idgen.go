// Package idgen generates the identifiers stamped on chatwatch batches and
// passes. The strategy is chosen at startup; everything that emits IDs
// takes a Generator.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so batch IDs order the same way as their sequence numbers.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Batch and Pass are the scoped generators used for emitted reports.
var (
	Batch = Prefixed("bat_", Default)
	Pass  = Prefixed("pas_", Default)
)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates an ID produced by a (possibly prefixed) UUID generator and
// returns the bare UUID.
func Parse(s string) (string, error) {
	if i := len(s) - 36; i > 0 {
		s = s[i:]
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid id: %w", err)
	}
	return u.String(), nil
}
