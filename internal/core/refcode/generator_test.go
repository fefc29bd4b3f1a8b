package refcode

import (
	"strings"
	"testing"
)

func TestGenerate_LengthAndAlphabet(t *testing.T) {
	g := NewGenerator(0)

	code, err := g.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != DefaultLength {
		t.Errorf("expected length %d, got %d", DefaultLength, len(code))
	}
	for _, c := range code {
		if !strings.ContainsRune(Alphabet, c) {
			t.Errorf("unexpected character %q in %s", c, code)
		}
	}
}

func TestGenerate_CustomLength(t *testing.T) {
	code, err := NewGenerator(4).Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(code) != 4 {
		t.Errorf("expected length 4, got %d", len(code))
	}
}

func TestGenerate_Distinct(t *testing.T) {
	g := NewGenerator(DefaultLength)
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		code, err := g.Generate()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[code] {
			t.Fatalf("duplicate code %s after %d draws", code, i)
		}
		seen[code] = true
	}
}
