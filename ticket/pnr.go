package ticket

import (
	"crypto/rand"
	"math/big"
)

const (
	pnrAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	pnrLength   = 8
)

// NewPNR returns a random eight character booking reference drawn from A-Z0-9.
// Uniqueness is the store's concern.
func NewPNR() string {
	b := make([]byte, pnrLength)
	max := big.NewInt(int64(len(pnrAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(err)
		}
		b[i] = pnrAlphabet[n.Int64()]
	}
	return string(b)
}

// IsPNR reports whether s has the shape NewPNR produces.
func IsPNR(s string) bool {
	if len(s) != pnrLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
