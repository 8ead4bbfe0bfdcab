package auth

import (
	"crypto/subtle"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. The salt is fixed: there is exactly one admin
// password per process and the derived hash never leaves memory.
var passwordSalt = []byte("medley/admin/v1")

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
)

// PasswordVerifier checks login attempts against the configured admin
// password using a memory-hard derivation. The derivation of the stored
// password is computed once and cached for the process lifetime; each
// candidate still pays the full derivation cost, so repeated verification
// is cheap without weakening the per-guess brute-force cost.
type PasswordVerifier struct {
	password string

	once    sync.Once
	derived []byte
}

// NewPasswordVerifier wraps the configured admin password. An empty
// password disables the auth subsystem entirely.
func NewPasswordVerifier(password string) *PasswordVerifier {
	return &PasswordVerifier{password: password}
}

// Enabled reports whether an admin password is configured.
func (v *PasswordVerifier) Enabled() bool {
	return v.password != ""
}

// Verify derives the candidate and compares it to the cached derivation of
// the stored password in constant time.
func (v *PasswordVerifier) Verify(candidate string) bool {
	if !v.Enabled() {
		return false
	}
	v.once.Do(func() {
		v.derived = derive(v.password)
	})
	got := derive(candidate)
	return subtle.ConstantTimeCompare(got, v.derived) == 1
}

func derive(password string) []byte {
	return argon2.IDKey([]byte(password), passwordSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
