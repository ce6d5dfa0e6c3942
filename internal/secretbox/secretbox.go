// Package secretbox seals small secrets at rest with a versioned, key-id
// tagged format so encryption keys can be rotated.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	version   = "v1"
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrUnknownKey is returned when a sealed value names a key the box lacks.
	ErrUnknownKey = errors.New("secretbox: unknown key id")
	// ErrMalformed is returned for values not produced by Seal.
	ErrMalformed = errors.New("secretbox: malformed sealed value")
	// ErrDecrypt is returned when authentication fails.
	ErrDecrypt = errors.New("secretbox: decryption failed")
)

// Key is a 256-bit encryption key with its identifier.
type Key struct {
	ID       string
	Material [keySize]byte
}

// ParseKey accepts either 32 raw bytes or their standard base64 encoding.
func ParseKey(id, material string) (Key, error) {
	if id == "" || strings.Contains(id, ":") {
		return Key{}, fmt.Errorf("secretbox: invalid key id %q", id)
	}
	raw := []byte(material)
	if len(raw) != keySize {
		decoded, err := base64.StdEncoding.DecodeString(material)
		if err != nil || len(decoded) != keySize {
			return Key{}, fmt.Errorf("secretbox: key %q must be %d bytes or base64 of %d bytes", id, keySize, keySize)
		}
		raw = decoded
	}
	var k Key
	k.ID = id
	copy(k.Material[:], raw)
	return k, nil
}

// Box seals with the active key and opens with any known key.
type Box struct {
	active string
	keys   map[string]*[keySize]byte
}

// New builds a Box from the active key and previous keys kept for decryption.
func New(active Key, previous ...Key) (*Box, error) {
	b := &Box{active: active.ID, keys: map[string]*[keySize]byte{}}
	for _, k := range append([]Key{active}, previous...) {
		if _, dup := b.keys[k.ID]; dup {
			return nil, fmt.Errorf("secretbox: duplicate key id %q", k.ID)
		}
		material := k.Material
		b.keys[k.ID] = &material
	}
	return b, nil
}

// Seal encrypts plaintext into "v1:{kid}:{base64(nonce|ciphertext)}".
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, b.keys[b.active])
	return strings.Join([]string{version, b.active, base64.RawStdEncoding.EncodeToString(sealed)}, ":"), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(value string) (string, error) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 || parts[0] != version {
		return "", ErrMalformed
	}
	key, ok := b.keys[parts[1]]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, parts[1])
	}
	raw, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
