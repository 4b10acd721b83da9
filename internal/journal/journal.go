// Package journal mirrors committed instance batches into SQLite so a
// restarted server can restore what was placed before it stopped.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"foliage/internal/geom"
	"foliage/internal/instances"
	"foliage/internal/placement"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// SQLite implements instances.Journal.
type SQLite struct {
	db *sql.DB
}

var _ instances.Journal = (*SQLite)(nil)

// Open creates or opens the journal database at path.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// One writer; the dispatch loop is the only caller anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordBatch writes the batch and its instances in one SQL transaction.
func (j *SQLite) RecordBatch(ctx context.Context, batch instances.Batch) (err error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO batches (id, tag, committed_at) VALUES (?, ?, ?)`,
		batch.ID, batch.Tag, batch.CommittedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert batch %d: %w", batch.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instances (id, batch_id, tag, seq, x, y, z, yaw, scale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare instance insert: %w", err)
	}
	defer stmt.Close()

	for seq, p := range batch.Instances {
		if _, err = stmt.ExecContext(ctx,
			p.ID.String(), batch.ID, p.Tag, seq,
			p.Position.X, p.Position.Y, p.Position.Z, p.YawDegrees, p.Scale,
		); err != nil {
			return fmt.Errorf("insert instance %s: %w", p.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %d: %w", batch.ID, err)
	}
	return nil
}

// RecordUndo deletes the batch; its instances go with it.
func (j *SQLite) RecordUndo(ctx context.Context, batchID uint64) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, batchID); err != nil {
		return fmt.Errorf("undo batch %d: %w", batchID, err)
	}
	return nil
}

// RecordClear deletes instances carrying tag, or every instance when tag is
// empty. Batch rows are kept so batch ids keep increasing across restarts.
func (j *SQLite) RecordClear(ctx context.Context, tag string) error {
	var err error
	if tag == "" {
		_, err = j.db.ExecContext(ctx, `DELETE FROM instances`)
	} else {
		_, err = j.db.ExecContext(ctx, `DELETE FROM instances WHERE tag = ?`, tag)
	}
	if err != nil {
		return fmt.Errorf("clear %q: %w", tag, err)
	}
	return nil
}

// Load returns every journalled batch in id order with its surviving
// instances in commit order.
func (j *SQLite) Load(ctx context.Context) ([]instances.Batch, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, tag, committed_at FROM batches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	var batches []instances.Batch
	index := make(map[uint64]int)
	for rows.Next() {
		var (
			b         instances.Batch
			committed string
		)
		if err := rows.Scan(&b.ID, &b.Tag, &committed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if b.CommittedAt, err = time.Parse(time.RFC3339Nano, committed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse batch %d time: %w", b.ID, err)
		}
		index[b.ID] = len(batches)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	rows.Close()

	rows, err = j.db.QueryContext(ctx, `
		SELECT id, batch_id, tag, x, y, z, yaw, scale
		FROM instances ORDER BY batch_id, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			p   instances.Placed
			pos geom.Vec3
			in  placement.Instance
		)
		if err := rows.Scan(&id, &p.Batch, &p.Tag, &pos.X, &pos.Y, &pos.Z, &in.YawDegrees, &in.Scale); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse instance id %q: %w", id, err)
		}
		in.Position = pos
		p.Instance = in
		i, ok := index[p.Batch]
		if !ok {
			return nil, fmt.Errorf("instance %s references missing batch %d", id, p.Batch)
		}
		batches[i].Instances = append(batches[i].Instances, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return batches, nil
}
