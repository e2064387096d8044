package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const referenceCodeDigits = 12

var referenceCodeFloor = big.NewInt(100_000_000_000)
var referenceCodeSpan = big.NewInt(900_000_000_000)

// NewReferenceCode returns a random 12-digit numeric code shared with the
// payment collaborator.
func NewReferenceCode() string {
	n, err := rand.Int(rand.Reader, referenceCodeSpan)
	if err != nil {
		panic(fmt.Sprintf("reference code: %v", err))
	}
	return n.Add(n, referenceCodeFloor).String()
}

func ValidReferenceCode(s string) bool {
	if len(s) != referenceCodeDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
