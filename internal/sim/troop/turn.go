package troop

import (
	"fmt"

	"keepaway.dev/internal/sim/worry"
)

// RoundLogEntry is written after every completed round.
type RoundLogEntry struct {
	Round     uint64   `json:"round"`
	Relief    uint32   `json:"relief"`
	Inspected []uint64 `json:"inspected"`
	Digest    string   `json:"digest"`
}

type RoundLogger interface {
	WriteRound(RoundLogEntry) error
}

// RoundLoggers fans one entry out to several loggers, stopping at the first error.
type RoundLoggers []RoundLogger

func (ls RoundLoggers) WriteRound(e RoundLogEntry) error {
	for _, l := range ls {
		if l == nil {
			continue
		}
		if err := l.WriteRound(e); err != nil {
			return err
		}
	}
	return nil
}

// RunRounds plays count rounds. Each round visits agents in increasing id
// order and every throw lands immediately, so an item thrown to a higher id
// is inspected again in the same round while one thrown to a lower id waits
// for the next round.
//
// A run error (overflow, logger failure) leaves the troop mid-round; discard it.
func (t *Troop) RunRounds(count int, relief uint32) error {
	if count <= 0 {
		return fmt.Errorf("round count must be > 0, got %d", count)
	}
	if err := t.enc.CheckRelief(relief); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		for id := range t.agents {
			if err := t.turn(id, relief); err != nil {
				return fmt.Errorf("round %d agent %d: %w", t.round+1, id, err)
			}
		}
		t.round++
		if t.logger == nil {
			continue
		}
		entry := RoundLogEntry{
			Round:     t.round,
			Relief:    relief,
			Inspected: t.InspectCounts(),
			Digest:    t.Digest(),
		}
		if err := t.logger.WriteRound(entry); err != nil {
			return fmt.Errorf("round %d log: %w", t.round, err)
		}
	}
	return nil
}

// turn processes exactly the items queued when it starts. Items the agent
// throws to itself land behind that snapshot and wait for the next round.
func (t *Troop) turn(id int, relief uint32) error {
	a := t.agents[id]
	n := a.queue.len()
	for i := 0; i < n; i++ {
		next, dst, err := a.inspect(relief)
		if err != nil {
			return err
		}
		t.move(id, dst, next)
	}
	return nil
}

// move is the only hand-off between agents: the head of from's queue is
// replaced by next at the tail of to's queue.
func (t *Troop) move(from, to int, next worry.Level) {
	t.agents[from].queue.pop()
	t.agents[to].queue.push(next)
}
