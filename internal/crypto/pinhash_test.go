package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPIN(t *testing.T) {
	salt, err := RandBytes(16)
	require.NoError(t, err)
	require.Len(t, salt, 16)

	hash := HashPIN([]byte("1234"), salt)
	require.Len(t, hash, 32)
	require.True(t, VerifyPIN([]byte("1234"), salt, hash))
	require.False(t, VerifyPIN([]byte("4321"), salt, hash))

	// Same PIN, different salt, different hash.
	salt2, err := RandBytes(16)
	require.NoError(t, err)
	require.NotEqual(t, salt, salt2)
	require.NotEqual(t, hash, HashPIN([]byte("1234"), salt2))
}

func TestRandBytesUnique(t *testing.T) {
	a, err := RandBytes(32)
	require.NoError(t, err)
	b, err := RandBytes(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
