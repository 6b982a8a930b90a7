// Package broadcast pushes the current document state to clients whose
// version lags after a mutation.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"canvas-sync/internal/notes"
	"canvas-sync/internal/ws"
	"canvas-sync/pkg/metrics"
)

// State is the document source pushes are built from.
type State interface {
	Snapshot(ctx context.Context, scope string) ([]notes.Note, error)
	Invalidate(scope string)
}

type Broadcaster struct {
	hub   *ws.Hub
	state State
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // serializes pushes per scope
}

func New(hub *ws.Hub, state State, log *slog.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, state: state, log: log, locks: map[string]*sync.Mutex{}}
}

// Attach installs the broadcaster's hooks on its hub.
func (b *Broadcaster) Attach() {
	b.hub.OnRegister = func(ctx context.Context, rm *ws.Room, id string) {
		if err := b.Welcome(ctx, rm, id); err != nil {
			b.log.Warn("broadcast.welcome", "scope", rm.Scope, "client", id, "err", err)
		}
	}
	b.hub.OnRemoteMutation = func(ctx context.Context, scope string) {
		b.Refresh(ctx, scope)
	}
}

func (b *Broadcaster) lock(scope string) func() {
	b.mu.Lock()
	l := b.locks[scope]
	if l == nil {
		l = &sync.Mutex{}
		b.locks[scope] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// OnMutation records a new version for the mutated scope and pushes the
// current state to every stale client. The author is marked seen since it
// gets the new state in its response. Returns the number of pushes sent.
func (b *Broadcaster) OnMutation(ctx context.Context, res notes.Result) int {
	metrics.Mutations.WithLabelValues(res.Op).Inc()
	defer b.hub.PublishMutation(ctx, res.Scope)

	rm, ok := b.hub.Lookup(res.Scope)
	if !ok {
		return 0
	}
	unlock := b.lock(res.Scope)
	defer unlock()

	v := rm.Tracker.RecordMutation()
	if res.ClientID != "" {
		rm.Tracker.MarkSeen(res.ClientID, v)
	}
	return b.push(rm, v, b.snapshot(ctx, res.Scope, res.Notes))
}

// Refresh handles a mutation made elsewhere: the cached state is dropped
// and every client of scope is brought to a fresh version.
func (b *Broadcaster) Refresh(ctx context.Context, scope string) int {
	b.state.Invalidate(scope)
	rm, ok := b.hub.Lookup(scope)
	if !ok {
		return 0
	}
	unlock := b.lock(scope)
	defer unlock()

	v := rm.Tracker.RecordMutation()
	return b.push(rm, v, b.snapshot(ctx, scope, nil))
}

// Welcome sends a just-registered client the full current state.
func (b *Broadcaster) Welcome(ctx context.Context, rm *ws.Room, id string) error {
	unlock := b.lock(rm.Scope)
	defer unlock()

	ch, ok := rm.Registry.Get(id)
	if !ok || !ch.Open() {
		return ws.ErrUnknownClient
	}
	data, err := b.state.Snapshot(ctx, rm.Scope)
	if err != nil {
		return err
	}
	v := rm.Tracker.Current()
	frame, err := ws.EncodeFrame(id, ws.TypeRefreshed, data)
	if err != nil {
		return err
	}
	if err := ch.Send(frame); err != nil {
		metrics.RefreshPushes.WithLabelValues("failed").Inc()
		return err
	}
	metrics.RefreshPushes.WithLabelValues("sent").Inc()
	rm.Tracker.MarkSeen(id, v)
	return nil
}

// snapshot reads the latest state, falling back to the mutation's own
// result when the store cannot be read.
func (b *Broadcaster) snapshot(ctx context.Context, scope string, fallback []notes.Note) []notes.Note {
	data, err := b.state.Snapshot(ctx, scope)
	if err != nil {
		b.log.Error("broadcast.snapshot", "scope", scope, "err", err)
		data = fallback
	}
	if data == nil {
		data = []notes.Note{}
	}
	return data
}

// push delivers REFRESHED to each stale client independently; a failed or
// missing target never stops the others.
func (b *Broadcaster) push(rm *ws.Room, v string, data []notes.Note) int {
	sent := 0
	for _, id := range rm.Tracker.StaleClients(v) {
		ch, ok := rm.Registry.Get(id)
		if !ok || !ch.Open() {
			metrics.RefreshPushes.WithLabelValues("skipped").Inc()
			b.log.Debug("broadcast.skip", "scope", rm.Scope, "client", id)
			continue
		}
		frame, err := ws.EncodeFrame(id, ws.TypeRefreshed, data)
		if err == nil {
			err = ch.Send(frame)
		}
		if err != nil {
			metrics.RefreshPushes.WithLabelValues("failed").Inc()
			b.log.Warn("broadcast.push", "scope", rm.Scope, "client", id, "err", err)
			continue
		}
		rm.Tracker.MarkSeen(id, v)
		metrics.RefreshPushes.WithLabelValues("sent").Inc()
		sent++
	}
	return sent
}
