package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Length is the number of characters in a room code.
const Length = 6

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var ErrInvalid = errors.New("invalid room code")

// Normalize upper-cases the input and strips whitespace.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate reports whether a normalized code has the given length and only
// contains A-Z and 0-9. A length of zero skips the length check.
func Validate(code string, length int) error {
	if code == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if length > 0 && len(code) != length {
		return fmt.Errorf("%w: %q must be %d characters", ErrInvalid, code, length)
	}
	for _, r := range code {
		if !strings.ContainsRune(alphabet, r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalid, code, r)
		}
	}
	return nil
}

// Parse normalizes and validates a user supplied code.
func Parse(input string, length int) (string, error) {
	code := Normalize(input)
	if err := Validate(code, length); err != nil {
		return "", err
	}
	return code, nil
}

// Generate returns a random code of the given length.
func Generate(length int) string {
	if length <= 0 {
		length = Length
	}
	var b strings.Builder
	b.Grow(length)
	for range length {
		b.WriteByte(alphabet[randomIndex(len(alphabet))])
	}
	return b.String()
}

// GenerateUnique keeps generating until inUse reports a free code.
func GenerateUnique(length int, inUse func(string) bool) string {
	for {
		code := Generate(length)
		if !inUse(code) {
			return code
		}
	}
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("roomcode: failed to generate random index: %v", err))
	}
	return int(n.Int64())
}
