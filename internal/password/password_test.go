package password_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sanglm2207/my-microservices-app/internal/password"
)

var cheap = password.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestHashVerify(t *testing.T) {
	h, err := password.NewHasher(cheap)
	require.NoError(t, err)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := h.Verify("correct horse", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong horse", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyLegacyBcrypt(t *testing.T) {
	h, err := password.NewHasher(cheap)
	require.NoError(t, err)

	legacy, err := bcrypt.GenerateFromPassword([]byte("old password"), bcrypt.MinCost)
	require.NoError(t, err)

	ok, err := h.Verify("old password", string(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("other", string(legacy))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	h, err := password.NewHasher(cheap)
	require.NoError(t, err)

	_, err = h.Verify("x", "plain-text")
	require.Error(t, err)
	_, err = h.Verify("x", "$argon2id$v=19$m=1024,t=1$c2FsdA$aGFzaA")
	require.Error(t, err)
}

func TestVerifyAcrossParams(t *testing.T) {
	weak, err := password.NewHasher(cheap)
	require.NoError(t, err)
	hash, err := weak.Hash("pw")
	require.NoError(t, err)

	stronger := cheap
	stronger.Time = 2
	strong, err := password.NewHasher(stronger)
	require.NoError(t, err)

	ok, err := strong.Verify("pw", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDummyNeverPanics(t *testing.T) {
	h, err := password.NewHasher(cheap)
	require.NoError(t, err)
	h.VerifyDummy("anything")
}
