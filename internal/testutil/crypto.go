package testutil

import (
	"testing"

	"github.com/ameliade/crosspost/internal/crypto"
)

// TestSessionSecret is the vault key used across test packages.
const TestSessionSecret = "correct horse battery staple"

// EncryptTestCredentials wraps a plaintext credential blob under the shared
// test secret. This is shared across test packages to avoid duplication.
func EncryptTestCredentials(t *testing.T, vault *crypto.Vault, plaintext string) []byte {
	t.Helper()

	encrypted, err := vault.Encrypt(TestSessionSecret, plaintext)
	if err != nil {
		t.Fatalf("Failed to encrypt test credentials: %v", err)
	}
	return encrypted
}
