// Package crypto implements manager-PIN hashing for offline approvals.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for an interactive terminal).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 32 * 1024 // 32 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPIN returns the Argon2id hash of pin using the provided salt.
func HashPIN(pin, salt []byte) []byte {
	return argon2.IDKey(pin, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPIN verifies pin against expected Argon2id hash and salt.
func VerifyPIN(pin, salt, expected []byte) bool {
	got := HashPIN(pin, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
