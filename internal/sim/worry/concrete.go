package worry

import (
	"fmt"
	"math/bits"

	"keepaway.dev/internal/sim/op"
)

// Concrete is a bounded integer worry level.
type Concrete uint64

func (c Concrete) Apply(o op.Op) (Level, error) {
	v := uint64(c)
	switch o.Kind {
	case op.KindAdd:
		sum, carry := bits.Add64(v, uint64(o.K), 0)
		if carry != 0 {
			return c, fmt.Errorf("%w: %d %s", ErrOverflow, v, o)
		}
		return Concrete(sum), nil
	case op.KindMultiply:
		return mulChecked(v, uint64(o.K), o)
	case op.KindSquare:
		return mulChecked(v, v, o)
	default:
		return c, op.ErrMalformed
	}
}

func mulChecked(a, b uint64, o op.Op) (Level, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return Concrete(a), fmt.Errorf("%w: %d %s", ErrOverflow, a, o)
	}
	return Concrete(lo), nil
}

func (c Concrete) Relieve(factor uint32) Level {
	if factor <= 1 {
		return c
	}
	return c / Concrete(factor)
}

func (c Concrete) DivisibleBy(t uint32) bool {
	return uint64(c)%uint64(t) == 0
}

func (c Concrete) Encoding() Encoding { return EncodingConcrete }
