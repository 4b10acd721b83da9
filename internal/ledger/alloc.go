package ledger

import "sync/atomic"

// Allocation is a working buffer whose lifetime is recorded in a Ledger.
type Allocation struct {
	ledger *Ledger
	handle Handle
	buf    []byte
	freed  atomic.Bool
}

// Alloc allocates size bytes and tracks them under a fresh handle.
func (l *Ledger) Alloc(size uint64) (*Allocation, error) {
	h := l.NextHandle()
	buf := make([]byte, size)
	if err := l.Track(h, size); err != nil {
		return nil, err
	}
	return &Allocation{ledger: l, handle: h, buf: buf}, nil
}

func (a *Allocation) Handle() Handle {
	return a.handle
}

func (a *Allocation) Bytes() []byte {
	return a.buf
}

// Free releases the buffer and untracks it. Calling Free more than once is
// harmless.
func (a *Allocation) Free() {
	if a == nil || !a.freed.CompareAndSwap(false, true) {
		return
	}
	a.ledger.Untrack(a.handle)
	a.buf = nil
}
