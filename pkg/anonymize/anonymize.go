// Package anonymize derives stable pseudonyms for entity identifiers.
//
// A pseudonym is a keyed BLAKE2b digest of the identifier, so the same ID
// maps to the same pseudonym for one key and cannot be reversed without it.
// This is pseudonymisation, not a formal anonymity guarantee.
package anonymize

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DefaultLength is the number of hex characters in a pseudonym.
const DefaultLength = 16

// ErrEmptyKey is returned when no key is configured.
var ErrEmptyKey = errors.New("anonymize: key must not be empty")

// Anonymizer maps identifiers to pseudonyms.
type Anonymizer struct {
	key    []byte
	prefix string
	length int
}

// Option configures an Anonymizer.
type Option func(*Anonymizer)

// WithPrefix prepends a fixed prefix, e.g. "ent_".
func WithPrefix(p string) Option {
	return func(a *Anonymizer) {
		a.prefix = p
	}
}

// WithLength sets the hex length of a pseudonym, between 8 and 64.
func WithLength(n int) Option {
	return func(a *Anonymizer) {
		if n >= 8 && n <= 2*blake2b.Size256 {
			a.length = n
		}
	}
}

// New creates an Anonymizer. The key must be non-empty and at most 64 bytes.
func New(key []byte, opts ...Option) (*Anonymizer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("anonymize: key longer than %d bytes", blake2b.Size)
	}
	a := &Anonymizer{
		key:    append([]byte(nil), key...),
		length: DefaultLength,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Pseudonym returns the pseudonym of id. The empty ID maps to "".
func (a *Anonymizer) Pseudonym(id string) string {
	if id == "" {
		return ""
	}
	// New256 only fails for keys over 64 bytes, which New rejects.
	h, _ := blake2b.New256(a.key)
	h.Write([]byte(id))
	return a.prefix + hex.EncodeToString(h.Sum(nil))[:a.length]
}
