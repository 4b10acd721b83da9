package ledger

import (
	"context"
	"testing"
	"time"
)

func TestRecorderKeepsBoundedHistory(t *testing.T) {
	l := New()
	rec := NewRecorder(l, 10*time.Millisecond, 3)

	base := time.Unix(0, 0)
	ticks := make(chan time.Time, 5)
	for i := 0; i < 5; i++ {
		ticks <- base.Add(time.Duration(i) * time.Second)
	}
	rec.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}

	if err := l.Track(l.NextHandle(), 128); err != nil {
		t.Fatalf("track: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.Start(ctx)

	deadline := time.After(time.Second)
	for {
		if h := rec.History(); len(h) == 3 && h[2].At.Equal(base.Add(4*time.Second)) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("recorder did not consume ticks, history=%v", rec.History())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	rec.Wait()

	history := rec.History()
	for i, sample := range history {
		want := base.Add(time.Duration(i+2) * time.Second)
		if !sample.At.Equal(want) {
			t.Fatalf("sample %d at %v, want %v", i, sample.At, want)
		}
		if sample.UsageBytes != 128 || sample.Live != 1 {
			t.Fatalf("sample %d = %+v, want 128 bytes over 1 allocation", i, sample)
		}
	}
}

func TestRecorderDefaults(t *testing.T) {
	rec := NewRecorder(New(), 0, 0)
	if rec.interval != 100*time.Millisecond {
		t.Fatalf("default interval = %v, want 100ms", rec.interval)
	}
	if rec.capacity != 50 {
		t.Fatalf("default capacity = %d, want 50", rec.capacity)
	}
	if len(rec.History()) != 0 {
		t.Fatalf("expected empty history before the first tick")
	}
}
