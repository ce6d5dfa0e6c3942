package jwt

import (
	"fmt"
	"sort"
)

// MinSecretLength is the shortest HS256 secret accepted.
const MinSecretLength = 32

// Key is an HMAC signing secret identified by its kid header value.
type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds the active signing key and any previous keys still accepted
// for verification.
type Keyring struct {
	active Key
	keys   map[string][]byte
}

// NewKeyring builds a keyring. The active key signs; all keys verify.
func NewKeyring(active Key, previous ...Key) (*Keyring, error) {
	if active.ID == "" || len(active.Secret) < MinSecretLength {
		return nil, fmt.Errorf("keyring: active key requires id and a secret of at least %d bytes", MinSecretLength)
	}
	ring := &Keyring{active: active, keys: map[string][]byte{active.ID: active.Secret}}
	for _, k := range previous {
		if k.ID == "" || len(k.Secret) < MinSecretLength {
			return nil, fmt.Errorf("keyring: previous key %q requires a secret of at least %d bytes", k.ID, MinSecretLength)
		}
		if _, dup := ring.keys[k.ID]; dup {
			return nil, fmt.Errorf("keyring: duplicate key id %q", k.ID)
		}
		ring.keys[k.ID] = k.Secret
	}
	return ring, nil
}

// KeysFromMap converts kid=secret configuration into keys, ordered by kid.
func KeysFromMap(m map[string]string) []Key {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	keys := make([]Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, Key{ID: id, Secret: []byte(m[id])})
	}
	return keys
}

// Active returns the signing key.
func (r *Keyring) Active() Key {
	return r.active
}

// Lookup resolves a verification secret by kid.
func (r *Keyring) Lookup(kid string) ([]byte, bool) {
	secret, ok := r.keys[kid]
	return secret, ok
}
