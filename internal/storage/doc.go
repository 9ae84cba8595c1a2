// Package storage provides the BBolt database behind the vault engine.
//
// Database structure uses two buckets:
//   - config: schema version, timestamps, vault ID and the wrapped data key
//   - entries: one record per stored password, keyed by a big-endian
//     sequence number so iteration order equals insertion order
//
// Entry names and values are stored as ciphertext; this package never sees
// plaintext and has no notion of the master password.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package storage
