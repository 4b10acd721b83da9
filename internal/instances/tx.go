package instances

import (
	"context"

	"foliage/internal/placement"
)

// Tx buffers instances until Commit. Nothing appended to a Tx is visible to
// store readers before Commit returns. A Tx must only be used from the
// goroutine that opened it.
type Tx struct {
	store   *Store
	tag     string
	pending []placement.Instance
	closed  bool
}

func (tx *Tx) Tag() string {
	return tx.tag
}

// Len reports how many instances are buffered.
func (tx *Tx) Len() int {
	return len(tx.pending)
}

func (tx *Tx) Append(inst placement.Instance) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.pending = append(tx.pending, inst)
	return nil
}

// Commit publishes the buffered instances as one batch in append order. On
// error the store is left as it was before Begin and the Tx is closed.
// Committing an empty Tx succeeds and publishes nothing.
func (tx *Tx) Commit(ctx context.Context) (Batch, error) {
	if tx.closed {
		return Batch{}, ErrTxClosed
	}
	tx.closed = true
	pending := tx.pending
	tx.pending = nil
	return tx.store.commit(ctx, tx.tag, pending)
}

// Rollback discards the buffered instances. It returns ErrTxClosed when the
// Tx was already finished, so it is safe to defer.
func (tx *Tx) Rollback() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	tx.pending = nil
	return nil
}
