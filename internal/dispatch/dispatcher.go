// Package dispatch serialises every store mutation onto one owner
// goroutine. Any goroutine may submit; only Run touches the store's write
// side, in submission order, one operation at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"foliage/internal/instances"
	"foliage/internal/ledger"
	"foliage/internal/placement"
)

// DefaultScratchBytes is the working buffer tracked for each paint stroke.
const DefaultScratchBytes = 5 << 20

var ErrStopped = errors.New("dispatch: dispatcher stopped")

// Result describes a finished operation. Batch is zero when nothing was
// committed.
type Result struct {
	Tag      string        `json:"tag"`
	Batch    uint64        `json:"batch"`
	Placed   int           `json:"placed"`
	Attempts int           `json:"attempts"`
	Removed  int           `json:"removed"`
	Duration time.Duration `json:"duration"`
}

// Pending resolves once the owner loop has processed the operation.
type Pending struct {
	tag    string
	done   chan struct{}
	result Result
	err    error
}

func newPending(tag string) *Pending {
	return &Pending{tag: tag, done: make(chan struct{})}
}

// Tag is the tag the operation's instances carry (paint) or target (clear).
func (p *Pending) Tag() string {
	return p.tag
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation finishes or ctx ends. Giving up on the wait
// does not cancel the operation.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pending) resolve(result Result, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

type Dispatcher struct {
	store        *instances.Store
	sampler      *placement.Sampler
	ground       placement.GroundQuery
	ledger       *ledger.Ledger
	logger       *log.Logger
	scratchBytes uint64
	queue        *queue
}

// New wires a dispatcher. scratchBytes of zero uses DefaultScratchBytes.
func New(store *instances.Store, sampler *placement.Sampler, ground placement.GroundQuery, l *ledger.Ledger, logger *log.Logger, scratchBytes uint64) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if scratchBytes == 0 {
		scratchBytes = DefaultScratchBytes
	}
	return &Dispatcher{
		store:        store,
		sampler:      sampler,
		ground:       ground,
		ledger:       l,
		logger:       logger,
		scratchBytes: scratchBytes,
		queue:        newQueue(),
	}
}

// Submit queues a paint stroke under a fresh tag.
func (d *Dispatcher) Submit(req placement.Request) *Pending {
	return d.SubmitTagged("", req)
}

// SubmitTagged queues a paint stroke whose instances will carry tag. An
// empty tag is replaced by a fresh one.
func (d *Dispatcher) SubmitTagged(tag string, req placement.Request) *Pending {
	if tag == "" {
		tag = uuid.NewString()
	}
	return d.enqueue(operation{kind: opPaint, tag: tag, req: req})
}

// SubmitClear queues removal of every instance carrying tag, or of every
// instance when tag is empty.
func (d *Dispatcher) SubmitClear(tag string) *Pending {
	return d.enqueue(operation{kind: opClear, tag: tag})
}

// SubmitUndo queues removal of the most recent batch.
func (d *Dispatcher) SubmitUndo() *Pending {
	return d.enqueue(operation{kind: opUndo})
}

func (d *Dispatcher) enqueue(op operation) *Pending {
	op.pending = newPending(op.tag)
	op.enqueued = time.Now()
	if !d.queue.Enqueue(op) {
		op.pending.resolve(Result{Tag: op.tag}, ErrStopped)
	}
	return op.pending
}

// Len reports how many operations are waiting.
func (d *Dispatcher) Len() int {
	return d.queue.Len()
}

// Run is the owner loop. It returns when ctx ends or Stop is called;
// operations still queued then resolve with ErrStopped. An operation that
// has started always runs to completion.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Printf("dispatcher running")
	for {
		if op, ok := d.queue.TryDequeue(); ok {
			d.process(context.WithoutCancel(ctx), op)
			continue
		}

		select {
		case <-ctx.Done():
			d.Stop()
			d.logger.Printf("dispatcher stopped: %v", ctx.Err())
			return ctx.Err()
		case <-d.queue.Wait():
			// The signal channel is closed once the queue is.
			if d.queue.Len() == 0 && d.queue.Closed() {
				d.logger.Printf("dispatcher stopped")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once the operation in progress, if
// any, finishes.
func (d *Dispatcher) Stop() {
	left := d.queue.Close()
	for _, op := range left {
		op.pending.resolve(Result{Tag: op.tag}, ErrStopped)
	}
	if len(left) > 0 {
		d.logger.Printf("dropped %d queued operations", len(left))
	}
}

func (d *Dispatcher) process(ctx context.Context, op operation) {
	start := time.Now()
	var (
		result Result
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatch: %s %s panicked: %v", op.kind, op.tag, r)
			}
		}()
		switch op.kind {
		case opPaint:
			result, err = d.paint(ctx, op)
		case opClear:
			result, err = d.clear(ctx, op)
		case opUndo:
			result, err = d.undo(ctx)
		default:
			err = fmt.Errorf("dispatch: unknown operation %d", op.kind)
		}
	}()
	result.Duration = time.Since(start)
	if result.Tag == "" {
		result.Tag = op.tag
	}

	if err != nil {
		d.logger.Printf("%s %s failed after %s: %v", op.kind, result.Tag, result.Duration, err)
	} else {
		d.logger.Printf("%s %s done in %s (queued %s): placed=%d removed=%d",
			op.kind, result.Tag, result.Duration, start.Sub(op.enqueued), result.Placed, result.Removed)
	}
	op.pending.resolve(result, err)
}

// paint runs one stroke inside a store transaction. The scratch allocation
// and the transaction are released on every path out.
func (d *Dispatcher) paint(ctx context.Context, op operation) (result Result, err error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.paint",
		trace.WithAttributes(
			attribute.String("tag", op.tag),
			attribute.Float64("radius", op.req.Radius),
			attribute.Int("density", op.req.Density),
			attribute.Float64("max_slope", op.req.MaxSlopeDegrees),
			attribute.Bool("clustering", op.req.Clustering),
		))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "paint failed")
		}
	}()

	result.Tag = op.tag

	scratch, err := d.ledger.Alloc(d.scratchBytes)
	if err != nil {
		return result, fmt.Errorf("allocate scratch: %w", err)
	}
	defer scratch.Free()

	tx := d.store.Begin(op.tag)
	defer func() {
		if rbErr := tx.Rollback(); rbErr == nil {
			d.logger.Printf("paint %s rolled back", op.tag)
		}
	}()

	placed, stats, err := d.sampler.SampleWithStats(ctx, op.req, d.ground)
	result.Attempts = stats.Attempts
	if err != nil {
		return result, err
	}
	for _, inst := range placed {
		if err := tx.Append(inst); err != nil {
			return result, fmt.Errorf("append instance: %w", err)
		}
	}

	batch, err := tx.Commit(ctx)
	if err != nil {
		return result, fmt.Errorf("commit: %w", err)
	}
	result.Batch = batch.ID
	result.Placed = len(batch.Instances)

	span.SetAttributes(
		attribute.Int64("batch", int64(batch.ID)),
		attribute.Int("placed", result.Placed),
		attribute.Int("misses", stats.Misses),
		attribute.Int("too_steep", stats.TooSteep),
	)
	return result, nil
}

func (d *Dispatcher) clear(ctx context.Context, op operation) (result Result, err error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.clear",
		trace.WithAttributes(attribute.String("tag", op.tag)))
	defer span.End()

	result.Tag = op.tag
	if op.tag == "" {
		result.Removed, err = d.store.ClearAll(ctx)
	} else {
		result.Removed, err = d.store.Clear(ctx, op.tag)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "clear failed")
		return result, err
	}
	span.SetAttributes(attribute.Int("removed", result.Removed))
	return result, nil
}

func (d *Dispatcher) undo(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.undo")
	defer span.End()

	batch, ok, err := d.store.Undo(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "undo failed")
		return Result{}, err
	}
	if !ok {
		span.SetAttributes(attribute.Bool("empty", true))
		return Result{}, nil
	}
	span.SetAttributes(
		attribute.Int64("batch", int64(batch.ID)),
		attribute.Int("removed", len(batch.Instances)),
	)
	return Result{Tag: batch.Tag, Batch: batch.ID, Removed: len(batch.Instances)}, nil
}
