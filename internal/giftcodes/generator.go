package giftcodes

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet drops 0/O and 1/I/L so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Generator produces candidate gift codes. Uniqueness is enforced by the
// store, not the generator.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator yields codes shaped PUTT-XXXX-XXXX.
type RandomGenerator struct{}

func (RandomGenerator) Generate() (string, error) {
	var b strings.Builder
	b.WriteString("PUTT")
	max := big.NewInt(int64(len(codeAlphabet)))
	for group := 0; group < 2; group++ {
		b.WriteByte('-')
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate gift code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}
