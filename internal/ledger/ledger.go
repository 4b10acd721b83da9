// Package ledger records live allocations and the aggregate number of bytes
// they hold. A Ledger is safe for concurrent use: HTTP goroutines read usage
// while the dispatch loop tracks and releases its working buffers.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrDuplicateHandle is returned by Track when the handle is already live.
// It points at a lifecycle bug in the caller: a handle reused before it was
// released, or tracked twice.
var ErrDuplicateHandle = errors.New("ledger: handle already tracked")

// Handle identifies one tracked allocation. Handles are opaque; they carry no
// address semantics.
type Handle uint64

// Record is the bookkeeping entry for one live allocation.
type Record struct {
	Handle Handle `json:"handle"`
	Size   uint64 `json:"size"`
}

// Ledger maps live handles to their records and keeps a running total that
// always equals the sum of the record sizes.
type Ledger struct {
	next atomic.Uint64

	mu      sync.Mutex
	records map[Handle]Record
	total   uint64
}

func New() *Ledger {
	return &Ledger{
		records: make(map[Handle]Record),
	}
}

// NextHandle returns a handle that has never been issued by this ledger.
func (l *Ledger) NextHandle() Handle {
	return Handle(l.next.Add(1))
}

// Track registers a live allocation of size bytes under h.
func (l *Ledger) Track(h Handle, size uint64) error {
	l.mu.Lock()
	if _, exists := l.records[h]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrDuplicateHandle, h)
	}
	l.records[h] = Record{Handle: h, Size: size}
	l.total += size
	l.mu.Unlock()
	return nil
}

// Untrack removes h and returns the size it held. Unknown handles are
// ignored and report zero; the total is never decremented for memory the
// ledger did not see allocated.
func (l *Ledger) Untrack(h Handle) uint64 {
	l.mu.Lock()
	rec, ok := l.records[h]
	if ok {
		delete(l.records, h)
		l.total -= rec.Size
	}
	l.mu.Unlock()
	return rec.Size
}

// CurrentUsage returns the number of bytes currently tracked.
func (l *Ledger) CurrentUsage() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Len returns the number of live allocations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Stats reads the running total and the live allocation count under one
// lock, so the pair always describes the same moment.
func (l *Ledger) Stats() (usage uint64, live int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, len(l.records)
}

// Records returns a copy of the live records ordered by handle.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	list := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		list = append(list, rec)
	}
	l.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Handle < list[j].Handle })
	return list
}
