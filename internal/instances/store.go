// Package instances holds committed placements. Writes arrive as
// transactions from the dispatch loop; a committed transaction becomes one
// batch, which is the unit of undo. Readers on other goroutines see either a
// whole batch or none of it.
package instances

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"foliage/internal/placement"
)

var ErrTxClosed = errors.New("instances: transaction already committed or rolled back")

// Placed is a committed instance.
type Placed struct {
	ID    uuid.UUID `json:"id"`
	Tag   string    `json:"tag"`
	Batch uint64    `json:"batch"`
	placement.Instance
}

// Batch is the set of instances one transaction committed.
type Batch struct {
	ID          uint64    `json:"id"`
	Tag         string    `json:"tag"`
	CommittedAt time.Time `json:"committedAt"`
	Instances   []Placed  `json:"instances"`
}

// Journal mirrors store mutations to durable storage. A journal error aborts
// the mutation before the in-memory store changes.
type Journal interface {
	RecordBatch(ctx context.Context, batch Batch) error
	RecordUndo(ctx context.Context, batchID uint64) error
	RecordClear(ctx context.Context, tag string) error
}

type Store struct {
	journal Journal
	now     func() time.Time

	mu        sync.RWMutex
	placed    []Placed
	batches   []uint64 // committed batch ids, oldest first
	nextBatch uint64
}

// NewStore returns an empty store. journal may be nil.
func NewStore(journal Journal) *Store {
	return &Store{
		journal: journal,
		now:     time.Now,
	}
}

// Begin opens a transaction whose instances will carry tag. An empty tag is
// replaced by a fresh one.
func (s *Store) Begin(tag string) *Tx {
	if tag == "" {
		tag = uuid.NewString()
	}
	return &Tx{store: s, tag: tag}
}

// Restore loads previously journalled batches into an empty store.
func (s *Store) Restore(batches []Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.placed) > 0 || len(s.batches) > 0 {
		return fmt.Errorf("restore into non-empty store")
	}
	for _, b := range batches {
		if b.ID <= s.nextBatch {
			return fmt.Errorf("restore batch %d out of order", b.ID)
		}
		s.placed = append(s.placed, b.Instances...)
		s.batches = append(s.batches, b.ID)
		s.nextBatch = b.ID
	}
	return nil
}

func (s *Store) commit(ctx context.Context, tag string, pending []placement.Instance) (Batch, error) {
	if len(pending) == 0 {
		return Batch{Tag: tag}, nil
	}

	s.mu.RLock()
	id := s.nextBatch + 1
	s.mu.RUnlock()

	batch := Batch{
		ID:          id,
		Tag:         tag,
		CommittedAt: s.now().UTC(),
		Instances:   make([]Placed, 0, len(pending)),
	}
	for _, inst := range pending {
		batch.Instances = append(batch.Instances, Placed{
			ID:       uuid.New(),
			Tag:      tag,
			Batch:    id,
			Instance: inst,
		})
	}

	if s.journal != nil {
		if err := s.journal.RecordBatch(ctx, batch); err != nil {
			return Batch{}, fmt.Errorf("journal batch %d: %w", id, err)
		}
	}

	s.mu.Lock()
	s.placed = append(s.placed, batch.Instances...)
	s.batches = append(s.batches, id)
	s.nextBatch = id
	s.mu.Unlock()
	return batch, nil
}

// Undo removes the most recently committed batch that still has instances.
// ok is false when there is nothing to undo.
func (s *Store) Undo(ctx context.Context) (batch Batch, ok bool, err error) {
	s.mu.RLock()
	var target uint64
	for i := len(s.batches) - 1; i >= 0 && target == 0; i-- {
		for _, p := range s.placed {
			if p.Batch == s.batches[i] {
				target = s.batches[i]
				break
			}
		}
	}
	s.mu.RUnlock()
	if target == 0 {
		return Batch{}, false, nil
	}

	if s.journal != nil {
		if err := s.journal.RecordUndo(ctx, target); err != nil {
			return Batch{}, false, fmt.Errorf("journal undo %d: %w", target, err)
		}
	}

	batch.ID = target
	s.mu.Lock()
	s.placed = filterPlaced(s.placed, func(p Placed) bool {
		if p.Batch == target {
			batch.Tag = p.Tag
			batch.Instances = append(batch.Instances, p)
			return false
		}
		return true
	})
	s.batches = removeBatch(s.batches, target)
	s.mu.Unlock()
	return batch, true, nil
}

// Clear removes every committed instance carrying tag and reports how many
// were removed.
func (s *Store) Clear(ctx context.Context, tag string) (int, error) {
	if tag == "" {
		return 0, fmt.Errorf("clear requires a tag")
	}
	return s.clear(ctx, tag, func(p Placed) bool { return p.Tag != tag })
}

// ClearAll removes every committed instance.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	return s.clear(ctx, "", func(Placed) bool { return false })
}

func (s *Store) clear(ctx context.Context, tag string, keep func(Placed) bool) (int, error) {
	if s.journal != nil {
		if err := s.journal.RecordClear(ctx, tag); err != nil {
			return 0, fmt.Errorf("journal clear: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.placed)
	s.placed = filterPlaced(s.placed, keep)
	return before - len(s.placed), nil
}

// All returns a copy of every committed instance in commit order.
func (s *Store) All() []Placed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Placed(nil), s.placed...)
}

// ByTag returns the committed instances carrying tag in commit order.
func (s *Store) ByTag(tag string) []Placed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Placed
	for _, p := range s.placed {
		if p.Tag == tag {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.placed)
}

func filterPlaced(list []Placed, keep func(Placed) bool) []Placed {
	out := list[:0]
	for _, p := range list {
		if keep(p) {
			out = append(out, p)
		}
	}
	// Zero the tail so dropped instances can be collected.
	for i := len(out); i < len(list); i++ {
		list[i] = Placed{}
	}
	return out
}

func removeBatch(ids []uint64, target uint64) []uint64 {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
