package notes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Service applies mutations to a Store and caches the latest snapshot
// of each scope.
type Service struct {
	store Store
	cache *gocache.Cache
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // one writer per scope
}

func NewService(store Store, ttl time.Duration, log *slog.Logger) *Service {
	return &Service{
		store: store,
		cache: gocache.New(ttl, time.Minute),
		log:   log,
		locks: map[string]*sync.Mutex{},
	}
}

func (s *Service) scopeLock(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[scope]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[scope] = l
	}
	return l
}

// Snapshot returns the current notes of scope. A cache miss reads the store
// under the scope lock so it can never cache state older than a write that
// finished meanwhile.
func (s *Service) Snapshot(ctx context.Context, scope string) ([]Note, error) {
	if v, ok := s.cache.Get(scope); ok {
		return clone(v.([]Note)), nil
	}
	l := s.scopeLock(scope)
	l.Lock()
	defer l.Unlock()
	if v, ok := s.cache.Get(scope); ok {
		return clone(v.([]Note)), nil
	}
	ns, err := s.store.LoadNotes(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load notes %s: %w", scope, err)
	}
	if ns == nil {
		ns = []Note{}
	}
	s.cache.SetDefault(scope, clone(ns))
	return ns, nil
}

// Invalidate drops the cached snapshot of scope, e.g. after another
// instance wrote it.
func (s *Service) Invalidate(scope string) { s.cache.Delete(scope) }

// Upsert replaces the note with the same id or appends a new one.
func (s *Service) Upsert(ctx context.Context, m Mutation) (Result, error) {
	if err := ValidID(m.Note.NoteID); err != nil {
		return Result{}, err
	}
	l := s.scopeLock(m.Scope)
	l.Lock()
	defer l.Unlock()

	ns, err := s.load(ctx, m.Scope)
	if err != nil {
		return Result{}, err
	}

	op := OpCreated
	for i := range ns {
		if ns[i].NoteID == m.Note.NoteID {
			ns[i] = m.Note
			op = OpModified
			break
		}
	}
	if op == OpCreated {
		ns = append(ns, m.Note)
	}

	if err := s.save(ctx, m.Scope, ns); err != nil {
		return Result{}, err
	}
	s.log.Debug("note."+op, "scope", m.Scope, "note", m.Note.NoteID, "client", m.ClientID)
	return Result{Scope: m.Scope, ClientID: m.ClientID, Op: op, NoteID: m.Note.NoteID, Notes: clone(ns)}, nil
}

// Delete removes a note by id.
func (s *Service) Delete(ctx context.Context, scope, clientID, noteID string) (Result, error) {
	if err := ValidID(noteID); err != nil {
		return Result{}, err
	}
	l := s.scopeLock(scope)
	l.Lock()
	defer l.Unlock()

	ns, err := s.load(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	kept := ns[:0]
	found := false
	for _, n := range ns {
		if n.NoteID == noteID {
			found = true
			continue
		}
		kept = append(kept, n)
	}
	if !found {
		return Result{}, ErrNotFound
	}

	if err := s.save(ctx, scope, kept); err != nil {
		return Result{}, err
	}
	s.log.Debug("note.deleted", "scope", scope, "note", noteID, "client", clientID)
	return Result{Scope: scope, ClientID: clientID, Op: OpDeleted, NoteID: noteID, Notes: clone(kept)}, nil
}

// load bypasses the cache; writers always start from stored state.
func (s *Service) load(ctx context.Context, scope string) ([]Note, error) {
	ns, err := s.store.LoadNotes(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load notes %s: %w", scope, err)
	}
	return clone(ns), nil
}

func (s *Service) save(ctx context.Context, scope string, ns []Note) error {
	s.cache.Delete(scope)
	if err := s.store.SaveNotes(ctx, scope, ns); err != nil {
		return fmt.Errorf("save notes %s: %w", scope, err)
	}
	s.cache.SetDefault(scope, clone(ns))
	return nil
}
