package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"canvas-sync/pkg/metrics"
)

// Router implements Store over an inline and a chunked tier.
type Router struct {
	inline  InlineTier
	chunked ChunkedTier
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // scope/id uploads in flight
}

func NewRouter(inline InlineTier, chunked ChunkedTier, log *slog.Logger) *Router {
	return &Router{inline: inline, chunked: chunked, log: log, pending: map[string]struct{}{}}
}

// Upload writes payload to the tier picked by its size. The tier is final:
// an id that already exists in either tier is rejected with ErrExists.
func (r *Router) Upload(ctx context.Context, scope, id string, payload []byte) (Record, error) {
	if err := ValidID(id); err != nil {
		return Record{}, err
	}
	key := scope + "/" + id
	r.mu.Lock()
	if _, busy := r.pending[key]; busy {
		r.mu.Unlock()
		return Record{}, ErrExists
	}
	r.pending[key] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
	}()

	exists, err := r.exists(ctx, scope, id)
	if err != nil {
		return Record{}, err
	}
	if exists {
		return Record{}, ErrExists
	}

	rec := Record{ID: id, Size: int64(len(payload)), Tier: TierFor(int64(len(payload)))}
	switch rec.Tier {
	case TierChunked:
		err = r.chunked.PutChunked(ctx, scope, id, bytes.NewReader(payload), rec.Size)
	default:
		err = r.inline.PutInline(ctx, scope, id, payload)
	}
	if err != nil {
		if errors.Is(err, ErrExists) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("put %s blob %s: %w", rec.Tier, id, err)
	}

	metrics.BlobUploads.WithLabelValues(string(rec.Tier)).Inc()
	metrics.BlobUploadBytes.Observe(float64(rec.Size))
	r.log.Info("blob.uploaded", "scope", scope, "id", id, "bytes", rec.Size, "tier", rec.Tier)
	return rec, nil
}

func (r *Router) exists(ctx context.Context, scope, id string) (bool, error) {
	ok, err := r.inline.HasInline(ctx, scope, id)
	if err != nil {
		return false, fmt.Errorf("stat inline blob %s: %w", id, err)
	}
	if ok {
		return true, nil
	}
	ok, err = r.chunked.HasChunked(ctx, scope, id)
	if err != nil {
		return false, fmt.Errorf("stat chunked blob %s: %w", id, err)
	}
	return ok, nil
}

// List returns the union of both tiers' ids, sorted.
func (r *Router) List(ctx context.Context, scope string) ([]string, error) {
	var inline, chunked []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := r.inline.InlineIDs(gctx, scope)
		if err != nil {
			return fmt.Errorf("list inline blobs: %w", err)
		}
		inline = ids
		return nil
	})
	g.Go(func() error {
		ids, err := r.chunked.ChunkedIDs(gctx, scope)
		if err != nil {
			return fmt.Errorf("list chunked blobs: %w", err)
		}
		chunked = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(inline)+len(chunked))
	out := make([]string, 0, len(inline)+len(chunked))
	for _, ids := range [][]string{inline, chunked} {
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Download tries the inline tier, then the chunked tier.
func (r *Router) Download(ctx context.Context, scope, id string) (io.ReadCloser, Record, error) {
	if err := ValidID(id); err != nil {
		return nil, Record{}, err
	}
	data, err := r.inline.GetInline(ctx, scope, id)
	switch {
	case err == nil:
		return io.NopCloser(bytes.NewReader(data)), Record{ID: id, Size: int64(len(data)), Tier: TierInline}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, Record{}, fmt.Errorf("get inline blob %s: %w", id, err)
	}

	rc, size, err := r.chunked.OpenChunked(ctx, scope, id)
	switch {
	case err == nil:
		return rc, Record{ID: id, Size: size, Tier: TierChunked}, nil
	case errors.Is(err, ErrNotFound):
		return nil, Record{}, ErrNotFound
	default:
		return nil, Record{}, fmt.Errorf("open chunked blob %s: %w", id, err)
	}
}
