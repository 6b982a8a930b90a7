package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
)

type memKey struct{ scope, id string }

// MemoryInline is an in-process InlineTier.
type MemoryInline struct {
	mu   sync.RWMutex
	data map[memKey][]byte
}

func NewMemoryInline() *MemoryInline { return &MemoryInline{data: map[memKey][]byte{}} }

func (m *MemoryInline) PutInline(_ context.Context, scope, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{scope, id}
	if _, ok := m.data[k]; ok {
		return ErrExists
	}
	m.data[k] = bytes.Clone(data)
	if m.data[k] == nil {
		m.data[k] = []byte{}
	}
	return nil
}

func (m *MemoryInline) GetInline(_ context.Context, scope, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[memKey{scope, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(b), nil
}

func (m *MemoryInline) HasInline(_ context.Context, scope, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[memKey{scope, id}]
	return ok, nil
}

func (m *MemoryInline) InlineIDs(_ context.Context, scope string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if k.scope == scope {
			out = append(out, k.id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MemoryChunked is an in-process ChunkedTier that splits payloads into
// ChunkSize segments.
type MemoryChunked struct {
	mu     sync.RWMutex
	chunks map[memKey][][]byte
}

func NewMemoryChunked() *MemoryChunked { return &MemoryChunked{chunks: map[memKey][][]byte{}} }

func (m *MemoryChunked) PutChunked(_ context.Context, scope, id string, r io.Reader, _ int64) error {
	var segs [][]byte
	for {
		buf := make([]byte, ChunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			segs = append(segs, buf[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey{scope, id}
	if _, ok := m.chunks[k]; ok {
		return ErrExists
	}
	m.chunks[k] = segs
	return nil
}

func (m *MemoryChunked) OpenChunked(_ context.Context, scope, id string) (io.ReadCloser, int64, error) {
	m.mu.RLock()
	segs, ok := m.chunks[memKey{scope, id}]
	m.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	var size int64
	readers := make([]io.Reader, len(segs))
	for i, s := range segs {
		readers[i] = bytes.NewReader(s)
		size += int64(len(s))
	}
	return io.NopCloser(io.MultiReader(readers...)), size, nil
}

func (m *MemoryChunked) HasChunked(_ context.Context, scope, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.chunks[memKey{scope, id}]
	return ok, nil
}

func (m *MemoryChunked) ChunkedIDs(_ context.Context, scope string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.chunks {
		if k.scope == scope {
			out = append(out, k.id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Segments reports how many chunks id was split into.
func (m *MemoryChunked) Segments(scope, id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[memKey{scope, id}])
}
