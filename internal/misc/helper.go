package misc

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	charset = "abcdefghijklmnopqrstuvwxyz0123456789"

	Seperator = "\n"
)

type (
	RandomIdGenerator interface {
		Generate(n int) (string, error)
	}
)

type randomIdGenerator struct {
}

func newRandomIdGenerator() RandomIdGenerator {
	return &randomIdGenerator{}
}

func (p randomIdGenerator) Generate(n int) (string, error) {
	result := make([]byte, n)
	charsetLength := int64(len(charset))

	for i := range result {
		randomByte, err := rand.Int(rand.Reader, big.NewInt(charsetLength))
		if err != nil {
			return "", err
		}
		result[i] = charset[randomByte.Int64()]
	}

	return string(result), nil
}

var (
	DefaultRandomIdGenerator = newRandomIdGenerator()
)

// SafeName turns a human label into something usable inside a file name.
func SafeName(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var sb strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		case r == ' ', r == '_', r == '.':
			sb.WriteRune('-')
		}
	}
	if sb.Len() == 0 {
		return "backup"
	}
	return sb.String()
}
