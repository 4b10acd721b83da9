package ledger

import (
	"context"
	"sync"
	"time"
)

const (
	defaultSampleInterval = 100 * time.Millisecond
	defaultHistoryLen     = 50
)

// Sample is one point of the usage history.
type Sample struct {
	At         time.Time `json:"at"`
	UsageBytes uint64    `json:"usage_bytes"`
	Live       int       `json:"live"`
}

type tickerFactory func(time.Duration) (<-chan time.Time, func())

func defaultTickerFactory() tickerFactory {
	return func(d time.Duration) (<-chan time.Time, func()) {
		ticker := time.NewTicker(d)
		return ticker.C, ticker.Stop
	}
}

// Recorder periodically samples a Ledger into a bounded history ring so
// clients can chart usage over time.
type Recorder struct {
	ledger    *Ledger
	interval  time.Duration
	capacity  int
	newTicker tickerFactory
	wg        sync.WaitGroup

	mu      sync.RWMutex
	history []Sample
	head    int
	full    bool
}

func NewRecorder(l *Ledger, interval time.Duration, capacity int) *Recorder {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if capacity <= 0 {
		capacity = defaultHistoryLen
	}
	return &Recorder{
		ledger:    l,
		interval:  interval,
		capacity:  capacity,
		newTicker: defaultTickerFactory(),
		history:   make([]Sample, capacity),
	}
}

func (r *Recorder) Start(ctx context.Context) {
	if r == nil || r.ledger == nil {
		return
	}
	r.wg.Add(1)
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	if r.newTicker == nil {
		r.newTicker = defaultTickerFactory()
	}

	tickerC, stop := r.newTicker(r.interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tickerC:
			r.record(now)
		}
	}
}

// record reads the ledger before taking the ring lock so the ledger's
// critical section never nests inside ours.
func (r *Recorder) record(now time.Time) {
	usage, live := r.ledger.Stats()

	r.mu.Lock()
	r.history[r.head] = Sample{At: now, UsageBytes: usage, Live: live}
	r.head = (r.head + 1) % r.capacity
	if r.head == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// History returns the recorded samples, oldest first.
func (r *Recorder) History() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		return append([]Sample(nil), r.history[:r.head]...)
	}
	out := make([]Sample, 0, r.capacity)
	out = append(out, r.history[r.head:]...)
	out = append(out, r.history[:r.head]...)
	return out
}

func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}
