package flashcall

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/go-flashcall-auth/internal/domain"
)

// DefaultCodeLength is the number of caller-ID digits that carry the code.
const DefaultCodeLength = 4

// maxCodeLength keeps 10^length inside int64.
const maxCodeLength = 18

// GenerateVerificationCode returns a uniformly random number in [0, 10^length)
// rendered as exactly length zero-padded digits.
func GenerateVerificationCode(length int) (string, error) {
	if length < 1 || length > maxCodeLength {
		return "", fmt.Errorf("code length %d outside [1, %d]: %w", length, maxCodeLength, domain.ErrValidation)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// EncodeCallerID replaces the trailing len(code) characters of callerID with code.
func EncodeCallerID(callerID, code string) (string, error) {
	if len(callerID) < len(code) {
		return "", fmt.Errorf("caller id must be at least %d characters: %w", len(code), domain.ErrValidation)
	}
	return callerID[:len(callerID)-len(code)] + code, nil
}

// ExtractCode returns the trailing length characters of a received caller ID.
func ExtractCode(callerID string, length int) (string, bool) {
	if length < 1 || len(callerID) < length {
		return "", false
	}
	return callerID[len(callerID)-length:], true
}
