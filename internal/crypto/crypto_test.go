package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const testIters = 1000

func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateRandom(KeySize)
	if err != nil {
		t.Fatalf("GenerateRandom failed: %v", err)
	}
	enc := NewEncryptor(key)

	plaintext := []byte("correct horse battery staple")
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if len(ciphertext) != NonceSize+len(plaintext)+TagSize {
		t.Errorf("unexpected ciphertext length %d", len(ciphertext))
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt = %q, want %q", got, plaintext)
	}

	// Tampering must be detected
	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := enc.Decrypt(ciphertext); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for tampered data, got %v", err)
	}

	if _, err := enc.Decrypt([]byte("short")); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestWrapUnwrapKey(t *testing.T) {
	key, err := GenerateRandom(KeySize)
	if err != nil {
		t.Fatalf("GenerateRandom failed: %v", err)
	}

	wrapped, err := WrapKey([]byte("master"), key, testIters)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	got, err := UnwrapKey([]byte("master"), wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey failed: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Error("unwrapped key differs from original")
	}

	if _, err := UnwrapKey([]byte("wrong"), wrapped); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for wrong password, got %v", err)
	}
	if _, err := UnwrapKey([]byte("master"), wrapped[:10]); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext for truncated key, got %v", err)
	}
	if _, err := WrapKey([]byte("master"), key, 0); err == nil {
		t.Error("expected error for zero iterations")
	}
}

func TestGeneratePassword(t *testing.T) {
	tests := []struct {
		name    string
		opts    PasswordOptions
		wantLen int
	}{
		{"all classes", PasswordOptions{Length: 16, Uppercase: true, Lowercase: true, Digit: true, Special: true}, 16},
		{"digits only", PasswordOptions{Length: 6, Digit: true}, 6},
		{"uneven split", PasswordOptions{Length: 7, Uppercase: true, Lowercase: true}, 7},
		{"no classes", PasswordOptions{Length: 10}, 0},
		{"zero length", PasswordOptions{Length: 0, Digit: true}, 0},
		{"too long", PasswordOptions{Length: MaxGeneratedLength + 1, Digit: true}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GeneratePassword(tt.opts)
			if err != nil {
				t.Fatalf("GeneratePassword failed: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen == 0 {
				return
			}
			if tt.opts.Uppercase && !strings.ContainsAny(got, string(uppercaseChars)) {
				t.Errorf("%q has no uppercase character", got)
			}
			if tt.opts.Lowercase && !strings.ContainsAny(got, string(lowercaseChars)) {
				t.Errorf("%q has no lowercase character", got)
			}
			if tt.opts.Digit && !strings.ContainsAny(got, string(digitChars)) {
				t.Errorf("%q has no digit", got)
			}
			if tt.opts.Special && !strings.ContainsAny(got, string(specialChars)) {
				t.Errorf("%q has no special character", got)
			}
			if !tt.opts.Special && strings.ContainsAny(got, string(specialChars)) {
				t.Errorf("%q contains unexpected special characters", got)
			}
		})
	}
}

func TestClearBytes(t *testing.T) {
	b := []byte("secret")
	ClearBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not cleared", i)
		}
	}
}
