package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	saltSize = 16

	// scrypt cost parameters. Interactive-login grade: decryption happens
	// once per account per batch, not per request.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
	keySize = 32
)

// CryptoError marks a decryption failure caused by a wrong or stale session
// secret (GCM authentication failure) or a malformed blob. It is always
// distinguishable from "wrong bytes came back": AES-GCM authenticates, so a
// bad key can never silently yield garbage plaintext.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("vault %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Vault encrypts and decrypts credential blobs with a key derived from the
// user's live session secret. The secret is the user's plaintext login
// password, held only in the session; the Vault itself is stateless and
// never stores a key. Blob layout: [salt][nonce][ciphertext+tag], with a
// fresh random salt per blob so the same secret never reuses a key.
type Vault struct{}

// NewVault creates a Vault.
func NewVault() *Vault {
	return &Vault{}
}

// Encrypt wraps plaintext with a key derived from sessionSecret.
func (v *Vault) Encrypt(sessionSecret, plaintext string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := deriveGCM(sessionSecret, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = gcm.Seal(blob, nonce, []byte(plaintext), nil)
	return blob, nil
}

// Decrypt unwraps a blob produced by Encrypt. A wrong or stale secret, or a
// corrupted blob, returns a *CryptoError.
func (v *Vault) Decrypt(sessionSecret string, blob []byte) (string, error) {
	if len(blob) < saltSize {
		return "", &CryptoError{Op: "decrypt", Err: fmt.Errorf("blob too short (%d bytes)", len(blob))}
	}

	salt, rest := blob[:saltSize], blob[saltSize:]
	gcm, err := deriveGCM(sessionSecret, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", &CryptoError{Op: "decrypt", Err: fmt.Errorf("blob too short for nonce (%d bytes)", len(rest))}
	}

	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", &CryptoError{Op: "decrypt", Err: err}
	}

	return string(plaintext), nil
}

// Rewrap re-encrypts a blob under a new session secret. Used by the
// password-change flow, which must rewrap every account's credentials
// before the old secret is discarded.
func (v *Vault) Rewrap(oldSecret, newSecret string, blob []byte) ([]byte, error) {
	plaintext, err := v.Decrypt(oldSecret, blob)
	if err != nil {
		return nil, err
	}
	return v.Encrypt(newSecret, plaintext)
}

// deriveGCM derives an AES-256-GCM instance from the secret and salt.
func deriveGCM(sessionSecret string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(sessionSecret), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
