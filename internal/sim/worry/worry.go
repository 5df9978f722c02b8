// Package worry holds the two encodings of an item's worry level.
//
// Concrete keeps the magnitude in a uint64 and supports the relief step.
// Residues keeps the value mod every m in 1..=M and never materialises the
// magnitude, so divisibility by any m <= M stays exact over unbounded growth.
// A run picks one encoding for every item; the two are never mixed.
package worry

import (
	"errors"
	"fmt"
	"strings"

	"keepaway.dev/internal/sim/op"
)

var (
	ErrOverflow  = errors.New("worry level overflow")
	ErrBadRelief = errors.New("relief factor not supported")
)

// Level is an item value. Apply never mutates the receiver.
type Level interface {
	Apply(o op.Op) (Level, error)
	// Relieve floor-divides by factor. Residues only accept factor 1.
	Relieve(factor uint32) Level
	DivisibleBy(t uint32) bool
	Encoding() Encoding
}

type Encoding string

const (
	EncodingConcrete Encoding = "concrete"
	EncodingResidue  Encoding = "residue"
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case EncodingConcrete:
		return EncodingConcrete, nil
	case EncodingResidue:
		return EncodingResidue, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (want %q or %q)", s, EncodingConcrete, EncodingResidue)
	}
}

func (e Encoding) Valid() bool {
	return e == EncodingConcrete || e == EncodingResidue
}

// FromInt builds a level for the literal starting value n. bound is the
// tracked modulus bound M and is ignored by the concrete encoding.
func (e Encoding) FromInt(n uint64, bound uint32) Level {
	if e == EncodingResidue {
		return NewResidues(n, bound)
	}
	return Concrete(n)
}

// CheckRelief reports whether factor can be used for a run with this encoding.
func (e Encoding) CheckRelief(factor uint32) error {
	if factor == 0 {
		return fmt.Errorf("%w: relief must be > 0", ErrBadRelief)
	}
	if e == EncodingResidue && factor != 1 {
		return fmt.Errorf("%w: residue encoding requires relief 1, got %d", ErrBadRelief, factor)
	}
	return nil
}

// MaxBound caps M. Every residue item holds M+1 words.
const MaxBound uint32 = 1 << 12

// Bound returns the smallest modulus bound covering every divisor.
func Bound(divisors []uint32) uint32 {
	var m uint32
	for _, d := range divisors {
		if d > m {
			m = d
		}
	}
	return m
}
