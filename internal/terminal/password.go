package terminal

import (
	"errors"
	"fmt"
	"os"

	"github.com/illarion/vaultshell/internal/crypto"
	"golang.org/x/term"
)

// PasswordEnv names the environment variable holding the master password.
const PasswordEnv = "VAULTSHELL_PASSWORD"

// ErrPasswordMismatch is returned when a confirmation does not match.
var ErrPasswordMismatch = errors.New("passwords do not match")

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(prompt string) ([]byte, error) {
	password1, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, ErrPasswordMismatch
	}

	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// PasswordFromEnv returns a copy of VAULTSHELL_PASSWORD, or nil when unset.
func PasswordFromEnv() []byte {
	password := os.Getenv(PasswordEnv)
	if password == "" {
		return nil
	}
	return []byte(password)
}
