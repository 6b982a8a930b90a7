package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"

	"canvas-sync/internal/blob"
)

// Inline tier: one bytea row per blob.

func (p *Postgres) PutInline(ctx context.Context, scope, id string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO blobs_inline (scope, file_id, data, size)
		VALUES ($1, $2, $3, $4)
	`, scope, id, data, len(data))
	if isUniqueViolation(err) {
		return blob.ErrExists
	}
	return err
}

func (p *Postgres) GetInline(ctx context.Context, scope, id string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `
		SELECT data FROM blobs_inline WHERE scope = $1 AND file_id = $2
	`, scope, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blob.ErrNotFound
	}
	return data, err
}

func (p *Postgres) HasInline(ctx context.Context, scope, id string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM blobs_inline WHERE scope = $1 AND file_id = $2)`, scope, id)
}

func (p *Postgres) InlineIDs(ctx context.Context, scope string) ([]string, error) {
	return p.ids(ctx, `SELECT file_id FROM blobs_inline WHERE scope = $1 ORDER BY file_id`, scope)
}

// Chunked tier: postgres large objects, indexed by blobs_chunked.

// PutChunked streams r into a new large object. The object and its index
// row commit together, so a duplicate id leaves no orphaned object.
func (p *Postgres) PutChunked(ctx context.Context, scope, id string, r io.Reader, size int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	los := tx.LargeObjects()
	oid, err := los.Create(ctx, 0)
	if err != nil {
		return fmt.Errorf("create large object: %w", err)
	}
	obj, err := los.Open(ctx, oid, pgx.LargeObjectModeWrite)
	if err != nil {
		return fmt.Errorf("open large object: %w", err)
	}
	n, err := io.Copy(obj, r)
	if err != nil {
		return fmt.Errorf("write large object: %w", err)
	}
	if err := obj.Close(); err != nil {
		return err
	}
	if size >= 0 && n != size {
		return fmt.Errorf("write large object: wrote %d of %d bytes", n, size)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO blobs_chunked (scope, file_id, oid, size)
		VALUES ($1, $2, $3, $4)
	`, scope, id, oid, n)
	if isUniqueViolation(err) {
		return blob.ErrExists
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.log.Info("blob.large_object.stored", "scope", scope, "id", id, "oid", oid, "bytes", n)
	return nil
}

// OpenChunked returns a reader over the large object. The read transaction
// stays open until the reader is closed.
func (p *Postgres) OpenChunked(ctx context.Context, scope, id string) (io.ReadCloser, int64, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, err
	}
	var (
		oid  uint32
		size int64
	)
	err = tx.QueryRow(ctx, `
		SELECT oid, size FROM blobs_chunked WHERE scope = $1 AND file_id = $2
	`, scope, id).Scan(&oid, &size)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, blob.ErrNotFound
		}
		return nil, 0, err
	}
	los := tx.LargeObjects()
	obj, err := los.Open(ctx, oid, pgx.LargeObjectModeRead)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, 0, fmt.Errorf("open large object %d: %w", oid, err)
	}
	return &largeObjectReader{ctx: ctx, obj: obj, tx: tx}, size, nil
}

func (p *Postgres) HasChunked(ctx context.Context, scope, id string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM blobs_chunked WHERE scope = $1 AND file_id = $2)`, scope, id)
}

func (p *Postgres) ChunkedIDs(ctx context.Context, scope string) ([]string, error) {
	return p.ids(ctx, `SELECT file_id FROM blobs_chunked WHERE scope = $1 ORDER BY file_id`, scope)
}

func (p *Postgres) exists(ctx context.Context, q, scope, id string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, q, scope, id).Scan(&ok)
	return ok, err
}

func (p *Postgres) ids(ctx context.Context, q, scope string) ([]string, error) {
	rows, err := p.pool.Query(ctx, q, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type largeObjectReader struct {
	ctx context.Context
	obj *pgx.LargeObject
	tx  pgx.Tx
}

func (r *largeObjectReader) Read(b []byte) (int, error) { return r.obj.Read(b) }

func (r *largeObjectReader) Close() error {
	err := r.obj.Close()
	if rbErr := r.tx.Rollback(r.ctx); err == nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
		err = rbErr
	}
	return err
}
