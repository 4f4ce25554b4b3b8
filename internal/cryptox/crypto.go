// Package cryptox derives and checks password verifiers.
//
// Passwords are never stored. A verifier is the SHA-256 digest of an
// argon2id key derived from the password and a per-user random salt.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/dmitrijs2005/fleetkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of salts produced by NewSalt.
const SaltSize = 32

func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// NewSalt returns SaltSize random bytes.
func NewSalt() []byte {
	return common.GenerateRandByteArray(SaltSize)
}

// PasswordVerifier derives the stored verifier for password and salt. The
// intermediate key is wiped before returning.
func PasswordVerifier(password string, salt []byte) []byte {
	key := DeriveMasterKey([]byte(password), salt)
	defer common.WipeByteArray(key)
	return MakeVerifier(key)
}

// CheckPassword reports whether password matches verifier in constant time.
func CheckPassword(password string, salt, verifier []byte) bool {
	return subtle.ConstantTimeCompare(PasswordVerifier(password, salt), verifier) == 1
}
