package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "fabrica/pkg/domain-errors"
)

// codeDigits is the fixed width of a verification code. The code is handled
// as a zero-padded string end to end, never as a numeric type, so leading
// zeros survive.
const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random 6-digit code, zero-padded.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}

// ValidCodeFormat reports whether raw is exactly six ASCII digits. Anything
// else is rejected before touching persistence.
func ValidCodeFormat(raw string) bool {
	if len(raw) != codeDigits {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return false
		}
	}
	return true
}

// HashCode hashes a code for storage.
func HashCode(code string) (string, error) {
	if code == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "code cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash code: %w", err)
	}
	return string(hashed), nil
}

// VerifyCode checks a plaintext code against a stored hash.
func VerifyCode(code, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
	if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		// Corrupt hash reads as a mismatch; the attempt counter still moves.
		return false
	}
	return err == nil
}

// RedactCode reduces a supplied code to its first and last characters for
// audit payloads. The full code is never logged.
func RedactCode(raw string) string {
	if len(raw) < 2 {
		return strings.Repeat("*", len(raw))
	}
	return raw[:1] + strings.Repeat("*", len(raw)-2) + raw[len(raw)-1:]
}
