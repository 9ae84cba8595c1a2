package engine

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/storage"
	"github.com/rs/zerolog"
)

// Item is a list entry: the decrypted name of a stored password.
type Item struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Password is a decrypted stored password.
type Password struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Count summarizes an import.
type Count struct {
	Insert int `json:"insert"`
	Ignore int `json:"ignore"`
}

// Pair is one exported record. Entries hold base64 ciphertext of name and
// value; the final pair of a non-empty export holds the wrapped data key and
// an empty value.
type Pair [2]string

// ImportSource is either a path to an export file or inline export data.
type ImportSource struct {
	File string
	Data []Pair
}

// UnmarshalJSON accepts a JSON string (file path) or an array of pairs.
func (s *ImportSource) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &s.File)
	}
	return json.Unmarshal(b, &s.Data)
}

// Option configures a Service.
type Option func(*Service)

// WithKDFIterations overrides the PBKDF2 cost used when wrapping keys.
func WithKDFIterations(n int) Option {
	return func(s *Service) { s.iterations = n }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service implements the vault operations on top of storage.
type Service struct {
	db         *storage.Storage
	iterations int
	logger     zerolog.Logger
}

// NewService creates a Service over an initialized database.
func NewService(db *storage.Storage, opts ...Option) *Service {
	s := &Service{
		db:         db,
		iterations: crypto.DefaultIters,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// unlock returns the data key. The caller must clear it.
func (s *Service) unlock(masterPassword string) ([]byte, error) {
	wrapped, err := s.db.GetWrappedKey()
	if errors.Is(err, storage.ErrKeyNotSet) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	key, err := crypto.UnwrapKey([]byte(masterPassword), wrapped)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthFailed) {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("failed to unwrap key: %w", err)
	}
	return key, nil
}

func seal(key []byte, plaintext string) ([]byte, error) {
	return crypto.NewEncryptor(key).Encrypt([]byte(plaintext))
}

func open(key, ciphertext []byte) (string, error) {
	plaintext, err := crypto.NewEncryptor(key).Decrypt(ciphertext)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthFailed) || errors.Is(err, crypto.ErrInvalidCiphertext) {
			return "", ErrWrongPassword
		}
		return "", err
	}
	return string(plaintext), nil
}

// IsMasterPasswordSet reports whether the vault has been initialized.
func (s *Service) IsMasterPasswordSet() (bool, error) {
	return s.db.HasWrappedKey()
}

// SetMasterPassword creates the vault data key and wraps it with password.
func (s *Service) SetMasterPassword(masterPassword string) error {
	if masterPassword == "" {
		return fmt.Errorf("%w: empty master password", ErrInvalidArgument)
	}
	set, err := s.db.HasWrappedKey()
	if err != nil {
		return err
	}
	if set {
		return ErrAlreadyInitialized
	}

	key, err := crypto.GenerateRandom(crypto.KeySize)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)

	wrapped, err := crypto.WrapKey([]byte(masterPassword), key, s.iterations)
	if err != nil {
		return fmt.Errorf("failed to wrap key: %w", err)
	}
	if err := s.db.SetWrappedKey(wrapped); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}
	s.logger.Info().Msg("master password set")
	return nil
}

// VerifyMasterPassword reports whether masterPassword unlocks the vault.
func (s *Service) VerifyMasterPassword(masterPassword string) (bool, error) {
	key, err := s.unlock(masterPassword)
	if errors.Is(err, ErrWrongPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	crypto.ClearBytes(key)
	return true, nil
}

// ChangePassword rewraps the data key with a new master password.
// Stored entries are untouched.
func (s *Service) ChangePassword(masterPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: empty master password", ErrInvalidArgument)
	}
	key, err := s.unlock(masterPassword)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)

	wrapped, err := crypto.WrapKey([]byte(newPassword), key, s.iterations)
	if err != nil {
		return fmt.Errorf("failed to wrap key: %w", err)
	}
	return s.db.SetWrappedKey(wrapped)
}

// ListPasswords returns the names of all stored passwords.
func (s *Service) ListPasswords(masterPassword string) ([]Item, error) {
	key, err := s.unlock(masterPassword)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(key)

	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		name, err := open(key, e.Name)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{ID: e.ID, Name: name})
	}
	return items, nil
}

// GetPassword returns one decrypted entry.
func (s *Service) GetPassword(masterPassword string, id uint64) (*Password, error) {
	key, err := s.unlock(masterPassword)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(key)

	entry, err := s.db.GetEntry(id)
	if errors.Is(err, storage.ErrEntryNotFound) {
		return nil, fmt.Errorf("%w: no entry %d", ErrInvalidArgument, id)
	}
	if err != nil {
		return nil, err
	}
	name, err := open(key, entry.Name)
	if err != nil {
		return nil, err
	}
	value, err := open(key, entry.Value)
	if err != nil {
		return nil, err
	}
	return &Password{Name: name, Password: value}, nil
}

// MakePassword generates a random password.
func (s *Service) MakePassword(opts crypto.PasswordOptions) (string, error) {
	return crypto.GeneratePassword(opts)
}

// AddPassword stores a new entry and returns its ID.
func (s *Service) AddPassword(masterPassword, name, password string) (uint64, error) {
	key, err := s.unlock(masterPassword)
	if err != nil {
		return 0, err
	}
	defer crypto.ClearBytes(key)

	sealedName, err := seal(key, name)
	if err != nil {
		return 0, err
	}
	sealedValue, err := seal(key, password)
	if err != nil {
		return 0, err
	}
	return s.db.AddEntry(sealedName, sealedValue)
}

// UpdatePassword replaces name and password of an existing entry.
func (s *Service) UpdatePassword(masterPassword string, id uint64, name, password string) error {
	key, err := s.unlock(masterPassword)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(key)

	sealedName, err := seal(key, name)
	if err != nil {
		return err
	}
	sealedValue, err := seal(key, password)
	if err != nil {
		return err
	}
	err = s.db.UpdateEntry(id, sealedName, sealedValue)
	if errors.Is(err, storage.ErrEntryNotFound) {
		return fmt.Errorf("%w: no entry %d", ErrInvalidArgument, id)
	}
	return err
}

// DeletePassword removes an entry.
func (s *Service) DeletePassword(masterPassword string, id uint64) error {
	key, err := s.unlock(masterPassword)
	if err != nil {
		return err
	}
	crypto.ClearBytes(key)
	return s.db.DeleteEntry(id)
}

// ExportPasswords produces the export data. When file is non-empty the data
// is written there (created or truncated) and nil is returned.
func (s *Service) ExportPasswords(masterPassword, file string) ([]Pair, error) {
	key, err := s.unlock(masterPassword)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(key)

	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(entries)+1)
	for _, e := range entries {
		pairs = append(pairs, Pair{
			base64.StdEncoding.EncodeToString(e.Name),
			base64.StdEncoding.EncodeToString(e.Value),
		})
	}
	if len(pairs) > 0 {
		wrapped, err := crypto.WrapKey([]byte(masterPassword), key, s.iterations)
		if err != nil {
			return nil, fmt.Errorf("failed to wrap key: %w", err)
		}
		pairs = append(pairs, Pair{base64.StdEncoding.EncodeToString(wrapped), ""})
	}

	if file == "" {
		return pairs, nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(pairs); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close export file: %w", err)
	}
	s.logger.Info().Int("entries", len(entries)).Msg("vault exported")
	return nil, nil
}

func (s *Service) readImportFile(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	// The file is a one-shot hand-off; it is removed whether or not it parses.
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		s.logger.Warn().Err(rmErr).Str("path", path).Msg("failed to remove import file")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		s.logger.Warn().Err(err).Msg("import file is not valid export data")
		return nil, ErrDeserializeFailed
	}
	return pairs, nil
}

// ImportPasswords merges export data into the vault. The export's data key is
// unwrapped with decryptPassword, or the master password when empty. Entries
// whose name and password already exist are ignored.
func (s *Service) ImportPasswords(masterPassword, decryptPassword string, src ImportSource) (Count, error) {
	var count Count

	key, err := s.unlock(masterPassword)
	if err != nil {
		return count, err
	}
	defer crypto.ClearBytes(key)

	pairs := src.Data
	if src.File != "" {
		if pairs, err = s.readImportFile(src.File); err != nil {
			return count, err
		}
	}
	if len(pairs) == 0 {
		return count, nil
	}

	if decryptPassword == "" {
		decryptPassword = masterPassword
	}
	trailer := pairs[len(pairs)-1]
	pairs = pairs[:len(pairs)-1]
	wrapped, err := base64.StdEncoding.DecodeString(trailer[0])
	if err != nil {
		return count, ErrDeserializeFailed
	}
	importKey, err := crypto.UnwrapKey([]byte(decryptPassword), wrapped)
	if errors.Is(err, crypto.ErrAuthFailed) {
		return count, ErrWrongPassword
	}
	if err != nil {
		return count, ErrDeserializeFailed
	}
	defer crypto.ClearBytes(importKey)

	existing, err := s.passwordSet(key)
	if err != nil {
		return count, err
	}

	var insert []storage.Entry
	for _, p := range pairs {
		name, value, err := openPair(importKey, p)
		if err != nil {
			return count, err
		}
		if existing[name][value] {
			count.Ignore++
			continue
		}
		if existing[name] == nil {
			existing[name] = make(map[string]bool)
		}
		existing[name][value] = true

		sealedName, err := seal(key, name)
		if err != nil {
			return count, err
		}
		sealedValue, err := seal(key, value)
		if err != nil {
			return count, err
		}
		insert = append(insert, storage.Entry{Name: sealedName, Value: sealedValue})
		count.Insert++
	}

	if len(insert) > 0 {
		if err := s.db.AddEntries(insert); err != nil {
			return Count{}, fmt.Errorf("failed to store imported entries: %w", err)
		}
	}
	s.logger.Info().Int("insert", count.Insert).Int("ignore", count.Ignore).Msg("vault import finished")
	return count, nil
}

func openPair(key []byte, p Pair) (string, string, error) {
	rawName, err := base64.StdEncoding.DecodeString(p[0])
	if err != nil {
		return "", "", ErrDeserializeFailed
	}
	rawValue, err := base64.StdEncoding.DecodeString(p[1])
	if err != nil {
		return "", "", ErrDeserializeFailed
	}
	name, err := open(key, rawName)
	if err != nil {
		return "", "", err
	}
	value, err := open(key, rawValue)
	if err != nil {
		return "", "", err
	}
	return name, value, nil
}

// passwordSet maps every stored name to the set of its passwords.
func (s *Service) passwordSet(key []byte) (map[string]map[string]bool, error) {
	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, err
	}
	set := make(map[string]map[string]bool, len(entries))
	for _, e := range entries {
		name, err := open(key, e.Name)
		if err != nil {
			return nil, err
		}
		value, err := open(key, e.Value)
		if err != nil {
			return nil, err
		}
		if set[name] == nil {
			set[name] = make(map[string]bool)
		}
		set[name][value] = true
	}
	return set, nil
}

// VaultID returns the stable identifier of this vault.
func (s *Service) VaultID() (string, error) {
	return s.db.GetOrCreateVaultID()
}

// Compact reclaims unused database space.
func (s *Service) Compact() error {
	return s.db.Compact()
}
