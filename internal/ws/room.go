package ws

import (
	"sync"

	"canvas-sync/internal/presence"
)

// Room groups the live connections and version records of one project scope.
type Room struct {
	Scope    string
	Registry *Registry
	Tracker  *presence.Tracker

	mu      sync.Mutex
	claimed map[string]struct{} // identities confirmed via register-user
}

// NewRoom creates an empty room. Leaving the registry drops the identity
// from the tracker and the claimed set before Unregister returns.
func NewRoom(scope string) *Room {
	rm := &Room{
		Scope:   scope,
		Tracker: presence.NewTracker(),
		claimed: map[string]struct{}{},
	}
	rm.Registry = NewRegistry(rm.leave)
	return rm
}

// Join registers a channel under a fresh identity and starts tracking it.
func (r *Room) Join(ch Channel) (string, error) {
	id, err := r.Registry.Register(ch)
	if err != nil {
		return "", err
	}
	r.Tracker.Join(id)
	return id, nil
}

// Leave removes id from the registry and tracker.
func (r *Room) Leave(id string) { r.Registry.Unregister(id) }

func (r *Room) leave(id string) {
	r.Tracker.DropClient(id)
	r.mu.Lock()
	delete(r.claimed, id)
	r.mu.Unlock()
}

// Known returns ErrUnknownClient unless id has a live connection.
func (r *Room) Known(id string) error {
	if _, ok := r.Registry.Get(id); !ok {
		return ErrUnknownClient
	}
	return nil
}

// Claim marks a live identity as registered by its client. Claiming twice
// returns ErrDuplicateClient.
func (r *Room) Claim(id string) error {
	if err := r.Known(id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[id]; ok {
		return ErrDuplicateClient
	}
	r.claimed[id] = struct{}{}
	return nil
}
