// Package keyring remembers master passwords in the OS keyring, keyed by the
// vault ID so several vaults on one machine do not collide.
package keyring

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "vaultshell"

// ErrNotFound is returned when no password is stored for a vault.
var ErrNotFound = keyring.ErrNotFound

// SavePassword stores the master password of a vault
func SavePassword(vaultID string, password string) error {
	if vaultID == "" {
		return errors.New("keyring: empty vault id")
	}
	if err := keyring.Set(serviceName, vaultID, password); err != nil {
		return fmt.Errorf("keyring: save: %w", err)
	}
	return nil
}

// GetPassword retrieves the master password of a vault
func GetPassword(vaultID string) (string, error) {
	return keyring.Get(serviceName, vaultID)
}

// DeletePassword removes the master password of a vault
func DeletePassword(vaultID string) error {
	return keyring.Delete(serviceName, vaultID)
}

// HasPassword checks if a password is stored for a vault
func HasPassword(vaultID string) bool {
	_, err := keyring.Get(serviceName, vaultID)
	return err == nil
}
