package dispatch

import (
	"sync"
	"time"

	"foliage/internal/placement"
)

type opKind int

const (
	opPaint opKind = iota + 1
	opClear
	opUndo
)

func (k opKind) String() string {
	switch k {
	case opPaint:
		return "paint"
	case opClear:
		return "clear"
	case opUndo:
		return "undo"
	default:
		return "unknown"
	}
}

// operation is one queued store mutation.
type operation struct {
	kind     opKind
	tag      string
	req      placement.Request
	pending  *Pending
	enqueued time.Time
}

// queue is an unbounded FIFO. Producers on any goroutine enqueue; the owner
// loop drains it with TryDequeue and parks on Wait when it is empty.
type queue struct {
	mu     sync.Mutex
	ops    []operation
	closed bool
	signal chan struct{} // buffered, size 1
}

func newQueue() *queue {
	return &queue{
		ops:    make([]operation, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends op and reports false once the queue is closed.
func (q *queue) Enqueue(op operation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.ops = append(q.ops, op)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) TryDequeue() (operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return operation{}, false
	}
	op := q.ops[0]
	q.ops[0] = operation{}
	if len(q.ops) == 1 {
		q.ops = q.ops[:0]
	} else {
		q.ops = q.ops[1:]
	}
	return op, true
}

// Wait fires when operations may be available and stays readable once the
// queue is closed.
func (q *queue) Wait() <-chan struct{} {
	return q.signal
}

func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting operations and hands back whatever was still queued.
func (q *queue) Close() []operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	left := q.ops
	q.ops = nil
	return left
}
