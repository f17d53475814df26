// Package privacy keeps identity numbers out of responses, logs and caches.
package privacy

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Mask keeps the first and last two characters of v and replaces the rest
// with '*'. Values of four characters or fewer are masked entirely.
func Mask(v string) string {
	r := []rune(v)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}

// Digester produces a keyed one-way digest of identifying values.
type Digester struct {
	key []byte
}

// NewDigester requires a key between 16 and 64 bytes.
func NewDigester(key []byte) (*Digester, error) {
	if len(key) < 16 {
		return nil, errors.New("digest key must be at least 16 bytes")
	}
	if len(key) > blake2b.Size {
		return nil, errors.New("digest key must be at most 64 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Digester{key: k}, nil
}

// Digest returns the hex BLAKE2b-256 MAC of value.
func (d *Digester) Digest(value string) string {
	h, err := blake2b.New256(d.key)
	if err != nil {
		// key length is checked in NewDigester
		panic(err)
	}
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
