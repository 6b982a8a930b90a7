package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"canvas-sync/internal/app"
	"canvas-sync/internal/notes"
)

type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to postgres and returns a pool wrapper
func NewPostgres(ctx context.Context, cfg app.Config, log *slog.Logger) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		return nil, err
	}
	if cfg.PGMaxConn > 0 {
		pcfg.MaxConns = int32(cfg.PGMaxConn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// LoadNotes returns the note array of a scope, empty if never written
func (p *Postgres) LoadNotes(ctx context.Context, scope string) ([]notes.Note, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `
		SELECT notes FROM note_documents WHERE scope = $1
	`, scope).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []notes.Note{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []notes.Note
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return out, nil
}

// SaveNotes replaces the note array, bumps version and timestamp
func (p *Postgres) SaveNotes(ctx context.Context, scope string, ns []notes.Note) error {
	if ns == nil {
		ns = []notes.Note{}
	}
	raw, err := json.Marshal(ns)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO note_documents (scope, notes, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (scope) DO UPDATE
		SET notes = EXCLUDED.notes, version = note_documents.version + 1, updated_at = NOW()
	`, scope, raw)
	if err != nil {
		return err
	}
	p.log.Debug("notes.saved", "scope", scope, "count", len(ns))
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
