package op

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindAdd Kind = iota + 1
	KindMultiply
	KindSquare
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "ADD"
	case KindMultiply:
		return "MULTIPLY"
	case KindSquare:
		return "SQUARE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

var ErrMalformed = errors.New("malformed operation")

// Op is one arithmetic step applied to an item value. K is unused for KindSquare.
type Op struct {
	Kind Kind
	K    uint32
}

func Add(k uint32) Op      { return Op{Kind: KindAdd, K: k} }
func Multiply(k uint32) Op { return Op{Kind: KindMultiply, K: k} }
func Square() Op           { return Op{Kind: KindSquare} }

func (o Op) Validate() error {
	switch o.Kind {
	case KindAdd, KindMultiply:
		if o.K == 0 {
			return fmt.Errorf("%w: %s constant must be > 0", ErrMalformed, strings.ToLower(o.Kind.String()))
		}
		return nil
	case KindSquare:
		if o.K != 0 {
			return fmt.Errorf("%w: square takes no constant", ErrMalformed)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformed, uint8(o.Kind))
	}
}

// String renders the right-hand side of "new = ...".
func (o Op) String() string {
	switch o.Kind {
	case KindAdd:
		return "old + " + strconv.FormatUint(uint64(o.K), 10)
	case KindMultiply:
		return "old * " + strconv.FormatUint(uint64(o.K), 10)
	case KindSquare:
		return "old * old"
	default:
		return o.Kind.String()
	}
}

// Parse accepts "old + k", "old * k" and "old * old", with an optional
// "new = " prefix. Whitespace between tokens is free.
func Parse(s string) (Op, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "new ="))
	tok := strings.Fields(s)
	if len(tok) != 3 || tok[0] != "old" {
		return Op{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if tok[1] == "*" && tok[2] == "old" {
		return Square(), nil
	}
	k, err := strconv.ParseUint(tok[2], 10, 32)
	if err != nil {
		return Op{}, fmt.Errorf("%w: %q: bad constant", ErrMalformed, s)
	}
	var o Op
	switch tok[1] {
	case "+":
		o = Add(uint32(k))
	case "*":
		o = Multiply(uint32(k))
	default:
		return Op{}, fmt.Errorf("%w: %q: unknown operator %q", ErrMalformed, s, tok[1])
	}
	if err := o.Validate(); err != nil {
		return Op{}, err
	}
	return o, nil
}

func (o Op) MarshalText() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return []byte(o.String()), nil
}

func (o *Op) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
