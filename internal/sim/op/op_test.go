package op

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Op
	}{
		{"old * 19", Multiply(19)},
		{"old + 6", Add(6)},
		{"old * old", Square()},
		{"new = old + 3", Add(3)},
		{"  old   *   7 ", Multiply(7)},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Parse(%q): got %+v want %+v", c.in, got, c.want)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{"", "old", "old - 3", "old + old", "old * -1", "x * 3", "old + 0", "old * 0", "old * 5000000000"} {
		if _, err := Parse(in); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q): expected ErrMalformed, got %v", in, err)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, o := range []Op{Add(1), Multiply(23), Square()} {
		got, err := Parse(o.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", o.String(), err)
		}
		if got != o {
			t.Fatalf("round trip: got %+v want %+v", got, o)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := (Op{Kind: KindSquare, K: 2}).Validate(); err == nil {
		t.Fatalf("square with constant should be rejected")
	}
	if err := (Op{}).Validate(); err == nil {
		t.Fatalf("zero op should be rejected")
	}
}
