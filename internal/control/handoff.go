package control

import "sync"

// Handoff is the latest-value slot between the inference loop and the fast
// loop. Put overwrites, Latest never blocks, and a reader always sees a
// complete value. A single-slot exchange, not a queue: the fast loop only
// ever wants the freshest completed action.
type Handoff struct {
	mu  sync.Mutex
	val Result
	set bool
	seq uint64
}

// Put stores a new result, replacing any unconsumed one.
func (h *Handoff) Put(r Result) {
	h.mu.Lock()
	h.seq++
	r.Seq = h.seq
	h.val = r
	h.set = true
	h.mu.Unlock()
}

// Latest returns the most recently stored result, or false when none has
// been produced yet.
func (h *Handoff) Latest() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.val, h.set
}
