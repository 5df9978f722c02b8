// Package notes parses the textual agent notes:
//
//	Monkey 0:
//	  Starting items: 79, 98
//	  Operation: new = old * 19
//	  Test: divisible by 23
//	    If true: throw to monkey 2
//	    If false: throw to monkey 3
//
// Blocks are separated by blank lines and must be numbered 0, 1, 2, ...
package notes

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"keepaway.dev/internal/sim/op"
	"keepaway.dev/internal/sim/troop"
)

const (
	prefixItems     = "Starting items:"
	prefixOperation = "Operation:"
	prefixTest      = "Test: divisible by"
	prefixIfTrue    = "If true: throw to monkey"
	prefixIfFalse   = "If false: throw to monkey"
)

type block struct {
	startLine int
	lines     []numbered
}

type numbered struct {
	n    int
	text string
}

func Parse(r io.Reader) ([]troop.Definition, error) {
	blocks, err := split(r)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("notes: no agents")
	}
	defs := make([]troop.Definition, 0, len(blocks))
	for i, b := range blocks {
		d, err := parseBlock(i, b)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func split(r io.Reader) ([]block, error) {
	var (
		out []block
		cur *block
	)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			cur = nil
			continue
		}
		if cur == nil {
			out = append(out, block{startLine: n})
			cur = &out[len(out)-1]
		}
		cur.lines = append(cur.lines, numbered{n: n, text: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("notes: %w", err)
	}
	return out, nil
}

func parseBlock(id int, b block) (troop.Definition, error) {
	var d troop.Definition
	if len(b.lines) != 6 {
		return d, fmt.Errorf("line %d: agent block has %d lines, want 6", b.startLine, len(b.lines))
	}

	header := b.lines[0]
	num, ok := strings.CutPrefix(header.text, "Monkey ")
	num, ok2 := strings.CutSuffix(num, ":")
	if !ok || !ok2 {
		return d, fmt.Errorf("line %d: expected \"Monkey N:\", got %q", header.n, header.text)
	}
	if got, err := strconv.Atoi(num); err != nil || got != id {
		return d, fmt.Errorf("line %d: expected agent %d, got %q", header.n, id, num)
	}

	items, err := field(b.lines[1], prefixItems)
	if err != nil {
		return d, err
	}
	if items != "" {
		for _, tok := range strings.Split(items, ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 64)
			if err != nil {
				return d, fmt.Errorf("line %d: bad item %q", b.lines[1].n, strings.TrimSpace(tok))
			}
			d.Items = append(d.Items, v)
		}
	}

	expr, err := field(b.lines[2], prefixOperation)
	if err != nil {
		return d, err
	}
	if d.Op, err = op.Parse(expr); err != nil {
		return d, fmt.Errorf("line %d: %w", b.lines[2].n, err)
	}

	div, err := uintField(b.lines[3], prefixTest, 32)
	if err != nil {
		return d, err
	}
	d.Divisor = uint32(div)

	t, err := uintField(b.lines[4], prefixIfTrue, 31)
	if err != nil {
		return d, err
	}
	f, err := uintField(b.lines[5], prefixIfFalse, 31)
	if err != nil {
		return d, err
	}
	d.IfTrue, d.IfFalse = int(t), int(f)
	return d, nil
}

func field(l numbered, prefix string) (string, error) {
	rest, ok := strings.CutPrefix(l.text, prefix)
	if !ok {
		return "", fmt.Errorf("line %d: expected %q, got %q", l.n, prefix, l.text)
	}
	return strings.TrimSpace(rest), nil
}

func uintField(l numbered, prefix string, bits int) (uint64, error) {
	s, err := field(l, prefix)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("line %d: bad number %q", l.n, s)
	}
	return v, nil
}

// Format renders definitions back into notes text.
func Format(w io.Writer, defs []troop.Definition) error {
	bw := bufio.NewWriter(w)
	for i, d := range defs {
		if i > 0 {
			bw.WriteString("\n")
		}
		items := make([]string, len(d.Items))
		for j, v := range d.Items {
			items[j] = strconv.FormatUint(v, 10)
		}
		fmt.Fprintf(bw, "Monkey %d:\n", i)
		fmt.Fprintf(bw, "  %s %s\n", prefixItems, strings.Join(items, ", "))
		fmt.Fprintf(bw, "  %s new = %s\n", prefixOperation, d.Op)
		fmt.Fprintf(bw, "  %s %d\n", prefixTest, d.Divisor)
		fmt.Fprintf(bw, "    %s %d\n", prefixIfTrue, d.IfTrue)
		fmt.Fprintf(bw, "    %s %d\n", prefixIfFalse, d.IfFalse)
	}
	return bw.Flush()
}
