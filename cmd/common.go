package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/illarion/vaultshell/internal/crypto"
	"github.com/illarion/vaultshell/internal/engine"
	"github.com/illarion/vaultshell/internal/keyring"
	"github.com/illarion/vaultshell/internal/log"
	"github.com/illarion/vaultshell/internal/storage"
	"github.com/illarion/vaultshell/internal/terminal"
)

// Password sources reported by GetPasswordWithRetry.
const (
	sourceEnv     = "env"
	sourceKeyring = "keyring"
	sourcePrompt  = "prompt"
)

// vault is an open vault database with its service.
type vault struct {
	db  *storage.Storage
	svc *engine.Service
}

func openVault() (*vault, error) {
	db, err := engine.OpenVault(cfg.DataDir())
	if err != nil {
		return nil, err
	}
	svc := engine.NewService(db, engine.WithLogger(log.WithComponent("cli")))
	return &vault{db: db, svc: svc}, nil
}

func (v *vault) Close() error {
	return v.db.Close()
}

// requireInitialized fails with engine.ErrNotInitialized on an empty vault.
func (v *vault) requireInitialized() error {
	set, err := v.svc.IsMasterPasswordSet()
	if err != nil {
		return err
	}
	if !set {
		return engine.ErrNotInitialized
	}
	return nil
}

// GetPasswordWithRetry returns the master password from the environment, the
// keyring or a prompt, in that order. A keyring entry that no longer verifies
// is removed and the user is prompted instead.
// The caller is responsible for calling crypto.ClearBytes on the password.
func GetPasswordWithRetry(prompt, vaultID string, verify func(string) (bool, error)) ([]byte, string, error) {
	if password := terminal.PasswordFromEnv(); password != nil {
		return password, sourceEnv, nil
	}

	if vaultID != "" {
		if stored, err := keyring.GetPassword(vaultID); err == nil {
			ok, err := verify(stored)
			if err != nil {
				return nil, "", err
			}
			if ok {
				return []byte(stored), sourceKeyring, nil
			}
			fmt.Fprintln(os.Stderr, "Stored keyring password is stale, removing it")
			_ = keyring.DeletePassword(vaultID)
		}
	}

	password, err := terminal.ReadPassword(prompt)
	if err != nil {
		return nil, "", err
	}
	ok, err := verify(string(password))
	if err != nil {
		crypto.ClearBytes(password)
		return nil, "", err
	}
	if !ok {
		crypto.ClearBytes(password)
		return nil, "", engine.ErrWrongPassword
	}
	return password, sourcePrompt, nil
}

// unlockVault opens the vault and obtains a verified master password.
func unlockVault(prompt string) (*vault, []byte, error) {
	v, err := openVault()
	if err != nil {
		return nil, nil, err
	}
	if err := v.requireInitialized(); err != nil {
		v.Close()
		return nil, nil, err
	}
	vaultID, _ := v.svc.VaultID()
	password, _, err := GetPasswordWithRetry(prompt, vaultID, v.svc.VerifyMasterPassword)
	if err != nil {
		v.Close()
		return nil, nil, err
	}
	return v, password, nil
}

// GetPasswordForInit reads a new master password from the environment or
// a confirmed prompt.
func GetPasswordForInit() ([]byte, error) {
	if password := terminal.PasswordFromEnv(); password != nil {
		return password, nil
	}
	return terminal.ReadPasswordConfirm("Enter master password: ")
}

// HandleError prints err with a hint where one helps, then exits.
func HandleError(err error) {
	switch {
	case errors.Is(err, engine.ErrNotInitialized):
		fmt.Fprintf(os.Stderr, "Error: vault not initialized\n")
		fmt.Fprintf(os.Stderr, "Run 'vaultshell init' first\n")
	case errors.Is(err, engine.ErrAlreadyInitialized):
		fmt.Fprintf(os.Stderr, "Error: vault already has a master password\n")
		fmt.Fprintf(os.Stderr, "Use 'vaultshell passwd' to change it\n")
	case errors.Is(err, engine.ErrWrongPassword):
		fmt.Fprintf(os.Stderr, "Error: wrong password\n")
	case errors.Is(err, terminal.ErrPasswordMismatch):
		fmt.Fprintf(os.Stderr, "Error: passwords do not match\n")
	case errors.Is(err, engine.ErrDeserializeFailed):
		fmt.Fprintf(os.Stderr, "Error: import file is not a vault export\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}

// readSecret reads a secret that is not the master password. It is never
// taken from the environment.
func readSecret(prompt string) ([]byte, error) {
	secret, err := terminal.ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, errors.New("empty password")
	}
	return secret, nil
}
