package storage

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	ConfigBucket  = []byte("config")  // Version, timestamps, vault ID, wrapped key
	EntriesBucket = []byte("entries") // Encrypted name/value pairs
)

// Config keys
var (
	ConfigVersion    = []byte("version")
	ConfigCreated    = []byte("created")
	ConfigModified   = []byte("modified")
	ConfigVaultID    = []byte("vault_id")
	ConfigWrappedKey = []byte("key")
)

var (
	ErrKeyNotSet     = errors.New("wrapped key not set")
	ErrEntryNotFound = errors.New("entry not found")
)

// Entry is a stored password. Name and Value are ciphertext.
type Entry struct {
	ID    uint64 `json:"-"`
	Name  []byte `json:"name"`
	Value []byte `json:"value"`
}

// Storage provides BBolt-based storage for the vault
type Storage struct {
	db *bolt.DB
}

// Open opens or creates a vault database
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates the bucket structure. It is a no-op on a database
// that is already initialized.
func (s *Storage) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, EntriesBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// HasWrappedKey reports whether a master password has been set.
func (s *Storage) HasWrappedKey() (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		ok = config != nil && config.Get(ConfigWrappedKey) != nil
		return nil
	})
	return ok, err
}

// SetWrappedKey stores the password-wrapped data key
func (s *Storage) SetWrappedKey(wrapped []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if err := config.Put(ConfigWrappedKey, wrapped); err != nil {
			return err
		}
		return touch(config)
	})
}

// GetWrappedKey retrieves the password-wrapped data key
func (s *Storage) GetWrappedKey() ([]byte, error) {
	var wrapped []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigWrappedKey)
		if data == nil {
			return ErrKeyNotSet
		}
		// Make a copy since the slice is only valid during the transaction
		wrapped = append([]byte(nil), data...)
		return nil
	})
	return wrapped, err
}

func touch(config *bolt.Bucket) error {
	modified, _ := time.Now().MarshalBinary()
	return config.Put(ConfigModified, modified)
}

// GetModified retrieves the last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

// GetVaultID retrieves the vault ID from config bucket
func (s *Storage) GetVaultID() (string, error) {
	var vaultID string
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigVaultID)
		if data == nil {
			return fmt.Errorf("vault_id not found")
		}
		vaultID = string(data)
		return nil
	})
	return vaultID, err
}

// GetOrCreateVaultID retrieves existing vault ID or generates a new one
func (s *Storage) GetOrCreateVaultID() (string, error) {
	vaultID, err := s.GetVaultID()
	if err == nil {
		return vaultID, nil
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate vault ID: %w", err)
	}
	vaultID = hex.EncodeToString(b)

	err = s.db.Update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		return config.Put(ConfigVaultID, []byte(vaultID))
	})
	if err != nil {
		return "", err
	}

	return vaultID, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func putEntry(entries *bolt.Bucket, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return entries.Put(itob(e.ID), data)
}

// AddEntries stores entries in a single transaction and assigns their IDs.
func (s *Storage) AddEntries(list []Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		for i := range list {
			id, err := entries.NextSequence()
			if err != nil {
				return err
			}
			list[i].ID = id
			if err := putEntry(entries, &list[i]); err != nil {
				return err
			}
		}
		return touch(tx.Bucket(ConfigBucket))
	})
}

// AddEntry stores one entry and returns its ID.
func (s *Storage) AddEntry(name, value []byte) (uint64, error) {
	list := []Entry{{Name: name, Value: value}}
	if err := s.AddEntries(list); err != nil {
		return 0, err
	}
	return list[0].ID, nil
}

// GetEntry retrieves one entry by ID
func (s *Storage) GetEntry(id uint64) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if entries == nil {
			return fmt.Errorf("entries bucket not found")
		}
		data := entries.Get(itob(id))
		if data == nil {
			return ErrEntryNotFound
		}
		entry = &Entry{ID: id}
		return json.Unmarshal(data, entry)
	})
	return entry, err
}

// UpdateEntry replaces the name and value of an existing entry
func (s *Storage) UpdateEntry(id uint64, name, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if entries.Get(itob(id)) == nil {
			return ErrEntryNotFound
		}
		if err := putEntry(entries, &Entry{ID: id, Name: name, Value: value}); err != nil {
			return err
		}
		return touch(tx.Bucket(ConfigBucket))
	})
}

// DeleteEntry removes an entry. Deleting a missing entry is not an error.
func (s *Storage) DeleteEntry(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(EntriesBucket).Delete(itob(id)); err != nil {
			return err
		}
		return touch(tx.Bucket(ConfigBucket))
	})
}

// ListEntries returns all entries ordered by ID
func (s *Storage) ListEntries() ([]Entry, error) {
	var list []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if entries == nil {
			return nil
		}
		return entries.ForEach(func(k, v []byte) error {
			entry := Entry{ID: binary.BigEndian.Uint64(k)}
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			list = append(list, entry)
			return nil
		})
	})
	return list, err
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after deleting entries to reclaim disk space.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				if err := dstBucket.SetSequence(srcBucket.Sequence()); err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	s.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
