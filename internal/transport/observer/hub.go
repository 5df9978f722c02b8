package observer

import (
	"encoding/json"
	"sync"

	"keepaway.dev/internal/observerproto"
	"keepaway.dev/internal/sim/ranking"
	"keepaway.dev/internal/sim/troop"
)

// Hub fans round entries out to websocket sessions. It is a troop.RoundLogger
// and never blocks the simulation: slow sessions miss messages.
type Hub struct {
	runID string

	mu       sync.Mutex
	sessions map[string]*session
	last     *observerproto.RoundMsg
	done     bool
}

type session struct {
	out   chan []byte
	every int
}

func NewHub(runID string) *Hub {
	return &Hub{runID: runID, sessions: map[string]*session{}}
}

func (h *Hub) WriteRound(e troop.RoundLogEntry) error {
	msg := observerproto.RoundMsg{
		Type:            observerproto.TypeRound,
		ProtocolVersion: observerproto.Version,
		RunID:           h.runID,
		Round:           e.Round,
		Digest:          e.Digest,
		Inspected:       e.Inspected,
		Score:           ranking.Score(e.Inspected),
	}
	h.publish(msg, false)
	return nil
}

// Finish sends the DONE message and closes every session's feed.
func (h *Hub) Finish(runErr error) {
	h.mu.Lock()
	var msg observerproto.RoundMsg
	if h.last != nil {
		msg = *h.last
	}
	h.mu.Unlock()

	msg.Type = observerproto.TypeDone
	msg.ProtocolVersion = observerproto.Version
	msg.RunID = h.runID
	if runErr != nil {
		msg.Error = runErr.Error()
	}
	h.publish(msg, true)
}

func (h *Hub) publish(msg observerproto.RoundMsg, final bool) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.last = &msg
	for _, s := range h.sessions {
		if !final && s.every > 1 && msg.Round%uint64(s.every) != 0 {
			continue
		}
		select {
		case s.out <- b:
		default:
		}
	}
	if final {
		h.done = true
		for id, s := range h.sessions {
			close(s.out)
			delete(h.sessions, id)
		}
	}
}

// join registers a session. The returned channel is closed when the run
// finishes or leave is called. A session joining a finished run gets the
// DONE message and a closed channel.
func (h *Hub) join(id string, every int) <-chan []byte {
	out := make(chan []byte, 256)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		if h.last != nil {
			if b, err := json.Marshal(h.last); err == nil {
				out <- b
			}
		}
		close(out)
		return out
	}
	h.sessions[id] = &session{out: out, every: every}
	return out
}

func (h *Hub) setEvery(id string, every int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		s.every = every
	}
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		close(s.out)
		delete(h.sessions, id)
	}
}

// Sessions reports the number of connected observers.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Last returns the most recent message, if any.
func (h *Hub) Last() (observerproto.RoundMsg, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return observerproto.RoundMsg{}, false
	}
	return *h.last, true
}
