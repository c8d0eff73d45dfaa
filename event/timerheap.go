package event

import (
	"container/heap"
	"encoding/binary"

	"github.com/dgryski/go-wyhash"
)

// tieBreakSeed is fixed so tie-break ordering is deterministic within a
// process run (useful for tests) while still being scrambled relative to
// raw insertion order, which is what defeats insertion-order bias between
// events sharing an exact deadline (spec.md section 8 property 5).
const tieBreakSeed = 0x646fb5f3b1a2c9ad

func scramble(seq uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seq)
	return wyhash.Hash(b[:], tieBreakSeed)
}

// timerHeap orders *Event by deadline, breaking exact ties by the
// wyhash-scrambled sequence number each was inserted with rather than raw
// insertion order.
type timerHeap []*Event

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return scramble(h[i].seq) < scramble(h[j].seq)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*timerHeap)(nil)
