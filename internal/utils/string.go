package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	letterBytes = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	NumberBytes = "0123456789"
)

// RandomString returns a cryptographically random string of the given size,
// drawn from the provided character sets (alphanumeric by default).
func RandomString(size int, charSetOptions ...string) (string, error) {
	charSet := letterBytes
	if len(charSetOptions) > 0 {
		charSet = ""
		for _, cs := range charSetOptions {
			charSet += cs
		}
	}

	b := make([]byte, size)
	for i := range b {
		randInt, err := rand.Int(rand.Reader, big.NewInt(int64(len(charSet))))
		if err != nil {
			return "", fmt.Errorf("generating random number in RandomString: %w", err)
		}

		b[i] = charSet[randInt.Int64()]
	}
	return string(b), nil
}

// TruncateString keeps borderSizeToKeep characters on each end of the string.
// Used to mask phone numbers and other PII in logs.
func TruncateString(str string, borderSizeToKeep int) string {
	if len(str) <= 2*borderSizeToKeep {
		return str
	}
	return str[:borderSizeToKeep] + "..." + str[len(str)-borderSizeToKeep:]
}
