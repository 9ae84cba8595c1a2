package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize     = 32     // Salt size in bytes
	KeySize      = 32     // AES-256 key size
	NonceSize    = 12     // GCM nonce size
	TagSize      = 16     // GCM authentication tag size
	DefaultIters = 210000 // Default PBKDF2 iterations (OWASP minimum)

	wrapHeaderSize = SaltSize + 4
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
)

// KDF handles key derivation from passwords
type KDF struct {
	Salt       []byte
	Iterations int
}

// NewKDF creates a new KDF with a random salt
func NewKDF() (*KDF, error) {
	return NewKDFWithIterations(DefaultIters)
}

// NewKDFWithIterations creates a KDF with a random salt and a custom cost.
func NewKDFWithIterations(iterations int) (*KDF, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("invalid iteration count %d", iterations)
	}
	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return &KDF{
		Salt:       salt,
		Iterations: iterations,
	}, nil
}

// DeriveKey derives an encryption key from a password
func (k *KDF) DeriveKey(password []byte) []byte {
	return pbkdf2.Key(password, k.Salt, k.Iterations, KeySize, sha256.New)
}

// Encryptor provides authenticated encryption
type Encryptor struct {
	key []byte
}

// NewEncryptor creates a new encryptor with the given key
func NewEncryptor(key []byte) *Encryptor {
	return &Encryptor{
		key: key,
	}
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateRandom(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Nonce is prepended to the sealed data
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext using AES-256-GCM
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// Destroy clears the encryptor's key from memory
func (e *Encryptor) Destroy() {
	ClearBytes(e.key)
}

// WrapKey seals a data key with a key derived from password using
// iterations rounds of PBKDF2. The result embeds its salt and cost.
func WrapKey(password, key []byte, iterations int) ([]byte, error) {
	kdf, err := NewKDFWithIterations(iterations)
	if err != nil {
		return nil, err
	}

	derived := kdf.DeriveKey(password)
	enc := NewEncryptor(derived)
	defer enc.Destroy()

	sealed, err := enc.Encrypt(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, wrapHeaderSize, wrapHeaderSize+len(sealed))
	copy(out, kdf.Salt)
	binary.BigEndian.PutUint32(out[SaltSize:], uint32(kdf.Iterations))
	return append(out, sealed...), nil
}

// UnwrapKey opens a key produced by WrapKey. A wrong password yields
// ErrAuthFailed.
func UnwrapKey(password, wrapped []byte) ([]byte, error) {
	if len(wrapped) < wrapHeaderSize+NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}
	iters := binary.BigEndian.Uint32(wrapped[SaltSize:wrapHeaderSize])
	if iters == 0 {
		return nil, ErrInvalidCiphertext
	}
	kdf := &KDF{
		Salt:       append([]byte(nil), wrapped[:SaltSize]...),
		Iterations: int(iters),
	}

	enc := NewEncryptor(kdf.DeriveKey(password))
	defer enc.Destroy()
	return enc.Decrypt(wrapped[wrapHeaderSize:])
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
