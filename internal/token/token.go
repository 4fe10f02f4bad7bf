// Package token generates random secrets for first-run setup.
package token

import (
	"crypto/rand"
	"math/big"
)

const (
	passwordPrefix = "gh"
	secretBytes    = 24
)

// base62Alphabet includes A-Za-z0-9 (no special characters)
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GeneratePassword returns a random admin password of the form gh_<base62>.
func GeneratePassword() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return passwordPrefix + "_" + encodeBase62(raw), nil
}

func encodeBase62(data []byte) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(62)
	zero := big.NewInt(0)
	var result []byte

	for num.Cmp(zero) > 0 {
		mod := new(big.Int)
		num.DivMod(num, base, mod)
		result = append([]byte{base62Alphabet[mod.Int64()]}, result...)
	}

	// Preserve leading zeros
	for _, b := range data {
		if b != 0 {
			break
		}
		result = append([]byte{'0'}, result...)
	}

	if len(result) == 0 {
		return "0"
	}
	return string(result)
}
