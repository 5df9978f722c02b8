package troop

import (
	"keepaway.dev/internal/sim/op"
	"keepaway.dev/internal/sim/worry"
)

// Agent holds a FIFO of worry levels and the rule that routes them.
// Routing fields are fixed after construction; only the driver mutates the queue.
type Agent struct {
	id      int
	op      op.Op
	divisor uint32
	ifTrue  int
	ifFalse int

	inspected uint64
	queue     queue
}

func (a *Agent) ID() int              { return a.id }
func (a *Agent) Op() op.Op            { return a.op }
func (a *Agent) Divisor() uint32      { return a.divisor }
func (a *Agent) Targets() (int, int)  { return a.ifTrue, a.ifFalse }
func (a *Agent) Inspected() uint64    { return a.inspected }
func (a *Agent) Len() int             { return a.queue.len() }
func (a *Agent) Items() []worry.Level { return a.queue.slice() }

// inspect counts the head item, transforms it and picks its destination.
// The item stays queued; the driver moves it.
func (a *Agent) inspect(relief uint32) (worry.Level, int, error) {
	a.inspected++
	next, err := a.queue.peek().Apply(a.op)
	if err != nil {
		return nil, 0, err
	}
	next = next.Relieve(relief)
	if next.DivisibleBy(a.divisor) {
		return next, a.ifTrue, nil
	}
	return next, a.ifFalse, nil
}

type queue struct {
	items []worry.Level
	head  int
}

func (q *queue) len() int { return len(q.items) - q.head }

func (q *queue) push(v worry.Level) { q.items = append(q.items, v) }

func (q *queue) peek() worry.Level { return q.items[q.head] }

func (q *queue) pop() worry.Level {
	v := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= 64 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}

func (q *queue) slice() []worry.Level {
	out := make([]worry.Level, q.len())
	copy(out, q.items[q.head:])
	return out
}
