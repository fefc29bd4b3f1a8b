// Package refcode produces opaque reference codes for warranty transactions.
//
// Codes are drawn uniformly from A-Z0-9. With the default length there are
// 36^10 (about 3.6e15) codes, so collisions are rare but not impossible;
// nothing in the engine assumes uniqueness beyond that.
package refcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	Alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultLength = 10
)

// Generator produces reference codes of a fixed length.
type Generator struct {
	length int
}

func NewGenerator(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// Generate returns a fresh code.
func (g *Generator) Generate() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}
