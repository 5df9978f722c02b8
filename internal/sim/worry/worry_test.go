package worry

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"keepaway.dev/internal/sim/op"
)

func applyBig(v *big.Int, o op.Op) {
	switch o.Kind {
	case op.KindAdd:
		v.Add(v, new(big.Int).SetUint64(uint64(o.K)))
	case op.KindMultiply:
		v.Mul(v, new(big.Int).SetUint64(uint64(o.K)))
	case op.KindSquare:
		v.Mul(v, v)
	}
}

func checkResidues(t *testing.T, step int, got Residues, want *big.Int) {
	t.Helper()
	var rem big.Int
	for m := uint32(1); m <= got.Bound(); m++ {
		rem.Mod(want, new(big.Int).SetUint64(uint64(m)))
		if uint64(got.Remainder(m)) != rem.Uint64() {
			t.Fatalf("step %d mod %d: got %d want %d", step, m, got.Remainder(m), rem.Uint64())
		}
		if got.DivisibleBy(m) != (rem.Sign() == 0) {
			t.Fatalf("step %d: DivisibleBy(%d) disagrees with reference", step, m)
		}
	}
}

func TestResidues_MatchBigIntOnRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const bound = 23

	for trial := 0; trial < 200; trial++ {
		start := uint64(rng.Intn(1000))
		var lv Level = NewResidues(start, bound)
		want := new(big.Int).SetUint64(start)

		// Squares are rare enough to keep the reference value small.
		for step := 0; step < 40; step++ {
			var o op.Op
			switch n := rng.Intn(10); {
			case n < 4:
				o = op.Add(uint32(rng.Intn(50) + 1))
			case n < 9:
				o = op.Multiply(uint32(rng.Intn(30) + 1))
			default:
				o = op.Square()
			}
			next, err := lv.Apply(o)
			if err != nil {
				t.Fatalf("apply %s: %v", o, err)
			}
			lv = next
			applyBig(want, o)
			checkResidues(t, step, lv.(Residues), want)
		}
	}
}

func TestResidues_TenThousandSquaresStayExact(t *testing.T) {
	const bound = 23
	// Every m <= 23 divides lcm(1..23), so reducing the reference by it is exact.
	lcm := big.NewInt(1)
	for m := int64(2); m <= bound; m++ {
		g := new(big.Int).GCD(nil, nil, lcm, big.NewInt(m))
		lcm.Mul(lcm, new(big.Int).Quo(big.NewInt(m), g))
	}

	var lv Level = NewResidues(79, bound)
	want := big.NewInt(79)
	for i := 0; i < 10000; i++ {
		o := op.Square()
		if i%7 == 3 {
			o = op.Add(6)
		}
		next, err := lv.Apply(o)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		lv = next
		applyBig(want, o)
		want.Mod(want, lcm)
		if i%500 == 0 || i == 9999 {
			checkResidues(t, i, lv.(Residues), want)
		}
	}
}

func TestResidues_LargeConstants(t *testing.T) {
	const k = 4294967291 // largest prime below 2^32
	lv, err := NewResidues(4294967290, 23).Apply(op.Multiply(k))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(4294967290), big.NewInt(k))
	checkResidues(t, 0, lv.(Residues), want)
}

func TestResidues_ApplyDoesNotMutate(t *testing.T) {
	v := NewResidues(10, 7)
	before := v.Remainders()
	if _, err := v.Apply(op.Square()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	after := v.Remainders()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("receiver mutated at mod %d", i+1)
		}
	}
}

func TestResiduesFromRemainders(t *testing.T) {
	v := NewResidues(1234567, 19)
	got, err := ResiduesFromRemainders(v.Remainders())
	if err != nil {
		t.Fatalf("ResiduesFromRemainders: %v", err)
	}
	checkResidues(t, 0, got, big.NewInt(1234567))

	if _, err := ResiduesFromRemainders([]uint32{0, 2}); err == nil {
		t.Fatalf("remainder 2 mod 2 should be rejected")
	}
}

func TestConcrete_ApplyAndRelieve(t *testing.T) {
	cases := []struct {
		start  uint64
		o      op.Op
		relief uint32
		want   uint64
	}{
		{79, op.Multiply(19), 3, 500},
		{54, op.Add(6), 3, 20},
		{79, op.Square(), 3, 2080},
		{74, op.Add(3), 3, 25},
		{74, op.Add(3), 1, 77},
	}
	for _, c := range cases {
		lv, err := Concrete(c.start).Apply(c.o)
		if err != nil {
			t.Fatalf("apply %s: %v", c.o, err)
		}
		got := lv.Relieve(c.relief).(Concrete)
		if uint64(got) != c.want {
			t.Fatalf("%d %s / %d: got %d want %d", c.start, c.o, c.relief, got, c.want)
		}
	}
	if !Concrete(500).DivisibleBy(5) || Concrete(500).DivisibleBy(23) {
		t.Fatalf("DivisibleBy mismatch")
	}
}

func TestConcrete_Overflow(t *testing.T) {
	if _, err := Concrete(1 << 33).Apply(op.Square()); !errors.Is(err, ErrOverflow) {
		t.Fatalf("square: expected ErrOverflow, got %v", err)
	}
	if _, err := Concrete(^uint64(0)).Apply(op.Add(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("add: expected ErrOverflow, got %v", err)
	}
	if _, err := Concrete(1 << 62).Apply(op.Multiply(4)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("multiply: expected ErrOverflow, got %v", err)
	}
	if _, err := Concrete(1 << 31).Apply(op.Square()); err != nil {
		t.Fatalf("2^62 fits: %v", err)
	}
}

func TestEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{"concrete": EncodingConcrete, " Residue ": EncodingResidue} {
		got, err := ParseEncoding(in)
		if err != nil || got != want {
			t.Fatalf("ParseEncoding(%q): got %q, %v", in, got, err)
		}
	}
	if _, err := ParseEncoding("bignum"); err == nil {
		t.Fatalf("unknown encoding accepted")
	}

	if err := EncodingResidue.CheckRelief(1); err != nil {
		t.Fatalf("residue relief 1: %v", err)
	}
	if err := EncodingResidue.CheckRelief(3); !errors.Is(err, ErrBadRelief) {
		t.Fatalf("residue relief 3: expected ErrBadRelief, got %v", err)
	}
	if err := EncodingConcrete.CheckRelief(0); !errors.Is(err, ErrBadRelief) {
		t.Fatalf("concrete relief 0: expected ErrBadRelief, got %v", err)
	}

	if _, ok := EncodingResidue.FromInt(5, 7).(Residues); !ok {
		t.Fatalf("residue FromInt returned wrong type")
	}
	if got := EncodingConcrete.FromInt(5, 7); got != Concrete(5) {
		t.Fatalf("concrete FromInt: got %v", got)
	}
	if got := Bound([]uint32{23, 19, 13, 17}); got != 23 {
		t.Fatalf("Bound: got %d want 23", got)
	}
}
