package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// MaxGeneratedLength bounds GeneratePassword.
const MaxGeneratedLength = 8192

var (
	uppercaseChars = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	lowercaseChars = []byte("abcdefghijklmnopqrstuvwxyz")
	digitChars     = []byte("0123456789")
	specialChars   = []byte("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~")
)

// PasswordOptions selects the character classes of a generated password.
type PasswordOptions struct {
	Length    int  `json:"len"`
	Uppercase bool `json:"uppercase"`
	Lowercase bool `json:"lowercase"`
	Digit     bool `json:"digit"`
	Special   bool `json:"special"`
}

func (o PasswordOptions) classes() [][]byte {
	classes := make([][]byte, 0, 4)
	if o.Uppercase {
		classes = append(classes, uppercaseChars)
	}
	if o.Lowercase {
		classes = append(classes, lowercaseChars)
	}
	if o.Digit {
		classes = append(classes, digitChars)
	}
	if o.Special {
		classes = append(classes, specialChars)
	}
	return classes
}

// GeneratePassword returns a random password in which every selected class
// is represented as evenly as the length allows. An empty string is
// returned when no class is selected or the length is out of range.
func GeneratePassword(opts PasswordOptions) (string, error) {
	classes := opts.classes()
	if len(classes) == 0 || opts.Length <= 0 || opts.Length > MaxGeneratedLength {
		return "", nil
	}

	password := make([]byte, 0, opts.Length)
	per := opts.Length / len(classes)
	remainder := opts.Length % len(classes)
	for _, class := range classes {
		n := per
		if remainder > 0 {
			remainder--
			n++
		}
		for i := 0; i < n; i++ {
			c, err := randomIndex(len(class))
			if err != nil {
				return "", err
			}
			password = append(password, class[c])
		}
	}

	// Fisher-Yates
	for i := len(password) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		password[i], password[j] = password[j], password[i]
	}
	return string(password), nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random index: %w", err)
	}
	return int(v.Int64()), nil
}
