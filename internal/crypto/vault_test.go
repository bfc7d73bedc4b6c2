package crypto

import (
	"errors"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	vault := NewVault()

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"single token", "a1b2c3d4-session-token"},
		{"json credential blob", `{"sid":"abc","salt":"xyz"}`},
		{"empty string", ""},
		{"unicode", "пароль密码🔐"},
		{"long cookie jar", "a=1; b=2; c=3; d=4; e=5; f=6; g=7; h=8; i=9; j=10; k=11; l=12"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			blob, err := vault.Encrypt("hunter2", tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if len(blob) == 0 {
				t.Fatal("Expected non-empty blob")
			}

			decrypted, err := vault.Decrypt("hunter2", blob)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if decrypted != tc.plaintext {
				t.Errorf("Expected %q, got %q", tc.plaintext, decrypted)
			}
		})
	}
}

func TestEncryptProducesDifferentBlobs(t *testing.T) {
	vault := NewVault()

	blob1, err := vault.Encrypt("secret", "same credentials")
	if err != nil {
		t.Fatalf("First encrypt failed: %v", err)
	}
	blob2, err := vault.Encrypt("secret", "same credentials")
	if err != nil {
		t.Fatalf("Second encrypt failed: %v", err)
	}

	if string(blob1) == string(blob2) {
		t.Error("Expected different blobs for same plaintext (salt and nonce should differ)")
	}
}

func TestDecryptWrongSecret(t *testing.T) {
	vault := NewVault()

	blob, err := vault.Encrypt("correct-password", "token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = vault.Decrypt("stale-password", blob)
	if err == nil {
		t.Fatal("Expected error for wrong secret, got nil")
	}

	var cryptoErr *CryptoError
	if !errors.As(err, &cryptoErr) {
		t.Errorf("Expected *CryptoError, got %T: %v", err, err)
	}
}

func TestDecryptMalformedBlob(t *testing.T) {
	vault := NewVault()

	t.Run("too short", func(t *testing.T) {
		_, err := vault.Decrypt("secret", []byte("short"))
		var cryptoErr *CryptoError
		if !errors.As(err, &cryptoErr) {
			t.Errorf("Expected *CryptoError, got %T: %v", err, err)
		}
	})

	t.Run("corrupted ciphertext", func(t *testing.T) {
		blob, err := vault.Encrypt("secret", "token")
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		blob[len(blob)-1] ^= 0xFF

		_, err = vault.Decrypt("secret", blob)
		var cryptoErr *CryptoError
		if !errors.As(err, &cryptoErr) {
			t.Errorf("Expected *CryptoError, got %T: %v", err, err)
		}
	})
}

func TestRewrap(t *testing.T) {
	vault := NewVault()

	blob, err := vault.Encrypt("old-password", "token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	rewrapped, err := vault.Rewrap("old-password", "new-password", blob)
	if err != nil {
		t.Fatalf("Rewrap failed: %v", err)
	}

	decrypted, err := vault.Decrypt("new-password", rewrapped)
	if err != nil {
		t.Fatalf("Decrypt with new secret failed: %v", err)
	}
	if decrypted != "token" {
		t.Errorf("Expected %q, got %q", "token", decrypted)
	}

	if _, err := vault.Decrypt("old-password", rewrapped); err == nil {
		t.Error("Expected rewrapped blob to be undecryptable with the old secret")
	}
}

func TestRewrapWrongOldSecret(t *testing.T) {
	vault := NewVault()

	blob, err := vault.Encrypt("old-password", "token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = vault.Rewrap("not-the-old-password", "new-password", blob)
	var cryptoErr *CryptoError
	if !errors.As(err, &cryptoErr) {
		t.Errorf("Expected *CryptoError, got %T: %v", err, err)
	}
}
