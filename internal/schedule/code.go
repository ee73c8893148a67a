package schedule

import (
	"crypto/rand"
	"io"
	"math/big"
)

// CodeAlphabet is the symbol set exam codes are drawn from.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeLength is the number of symbols in an exam code.
const CodeLength = 6

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// GenerateCode draws a new exam code from the system's secure random source.
func GenerateCode() (string, error) {
	return GenerateCodeFrom(rand.Reader)
}

// GenerateCodeFrom draws a code from r. rand.Int rejects out-of-range samples,
// so every symbol is equally likely.
func GenerateCodeFrom(r io.Reader) (string, error) {
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(r, alphabetSize)
		if err != nil {
			return "", err
		}
		b[i] = CodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// ValidCode reports whether s has the shape of an exam code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
