// Package crypto provides the cryptographic primitives of the vault engine.
//
// Every vault has a random 32-byte data key. Entries are sealed with that key
// using AES-256-GCM (12-byte random nonce, prepended to the ciphertext).
//
// The data key itself is stored wrapped: sealed with a key derived from the
// master password via PBKDF2-HMAC-SHA256. The wrapped form carries its own
// salt and iteration count, so exports can be reopened with the password
// that was current when they were written:
//
//	salt (32) | iterations (4, big endian) | nonce (12) | ciphertext | tag (16)
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Encryptor.Destroy() when done with encryption operations
package crypto
