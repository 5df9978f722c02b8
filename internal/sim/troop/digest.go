package troop

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"keepaway.dev/internal/sim/worry"
)

// Digest hashes everything that influences future rounds.
func (t *Troop) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	h.Write([]byte(t.enc))
	digestWriteU64(h, &tmp, uint64(t.bound))
	digestWriteU64(h, &tmp, t.round)
	for _, a := range t.agents {
		digestAgent(h, &tmp, a)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestAgent(h hashWriter, tmp *[8]byte, a *Agent) {
	digestWriteU64(h, tmp, uint64(a.id))
	digestWriteU64(h, tmp, uint64(a.op.Kind))
	digestWriteU64(h, tmp, uint64(a.op.K))
	digestWriteU64(h, tmp, uint64(a.divisor))
	digestWriteU64(h, tmp, uint64(a.ifTrue))
	digestWriteU64(h, tmp, uint64(a.ifFalse))
	digestWriteU64(h, tmp, a.inspected)
	digestWriteU64(h, tmp, uint64(a.queue.len()))
	for _, lv := range a.queue.items[a.queue.head:] {
		switch v := lv.(type) {
		case worry.Concrete:
			digestWriteU64(h, tmp, uint64(v))
		case worry.Residues:
			for m := uint32(1); m <= v.Bound(); m++ {
				digestWriteU64(h, tmp, uint64(v.Remainder(m)))
			}
		}
	}
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
