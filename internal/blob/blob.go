// Package blob stores binary assets (PDFs) in one of two tiers picked by
// size at upload time: inline records for small payloads and a chunked
// large-object store above Threshold. Callers only see Store.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Threshold is the largest payload kept inline.
const Threshold = 16 << 20

// ChunkSize is the segment size used by chunked tiers that split payloads
// themselves (matches the GridFS default).
const ChunkSize = 255 << 10

type Tier string

const (
	TierInline  Tier = "inline"
	TierChunked Tier = "chunked"
)

// TierFor returns the tier a payload of size bytes is written to.
func TierFor(size int64) Tier {
	if size > Threshold {
		return TierChunked
	}
	return TierInline
}

var (
	ErrNotFound  = errors.New("blob not found")
	ErrExists    = errors.New("blob already exists")
	ErrInvalidID = errors.New("invalid file id")
)

type Record struct {
	ID   string `json:"fileId"`
	Size int64  `json:"size"`
	Tier Tier   `json:"tier"`
}

// Store is the tier-agnostic blob API.
type Store interface {
	Upload(ctx context.Context, scope, id string, payload []byte) (Record, error)
	List(ctx context.Context, scope string) ([]string, error)
	// Download streams the payload; the caller closes the reader.
	Download(ctx context.Context, scope, id string) (io.ReadCloser, Record, error)
}

// InlineTier keeps each payload in a single record.
type InlineTier interface {
	PutInline(ctx context.Context, scope, id string, data []byte) error
	// GetInline returns ErrNotFound when id is absent.
	GetInline(ctx context.Context, scope, id string) ([]byte, error)
	HasInline(ctx context.Context, scope, id string) (bool, error)
	InlineIDs(ctx context.Context, scope string) ([]string, error)
}

// ChunkedTier keeps payloads split across segments addressed by id.
type ChunkedTier interface {
	PutChunked(ctx context.Context, scope, id string, r io.Reader, size int64) error
	// OpenChunked returns ErrNotFound when id is absent.
	OpenChunked(ctx context.Context, scope, id string) (io.ReadCloser, int64, error)
	HasChunked(ctx context.Context, scope, id string) (bool, error)
	ChunkedIDs(ctx context.Context, scope string) ([]string, error)
}

const maxIDLen = 255

// ValidID rejects ids that cannot name a file in every backend.
func ValidID(id string) error {
	if id == "" || len(id) > maxIDLen || strings.ContainsAny(id, "/\\\x00") || id == "." || id == ".." {
		return ErrInvalidID
	}
	return nil
}
