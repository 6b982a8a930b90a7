package ws

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrDuplicateClient = errors.New("client already registered")
	ErrUnknownClient   = errors.New("unknown client")
)

// Registry holds the live channels of one scope keyed by client identity.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Channel

	onLeave func(id string) // runs after an identity is removed
}

// NewRegistry creates an empty registry. onLeave may be nil.
func NewRegistry(onLeave func(id string)) *Registry {
	return &Registry{conns: map[string]Channel{}, onLeave: onLeave}
}

// Register stores ch under a fresh identity and sends it REGISTER-USER.
func (r *Registry) Register(ch Channel) (string, error) {
	id := uuid.NewString()
	if err := r.RegisterAs(id, ch); err != nil {
		return "", err
	}
	return id, nil
}

// RegisterAs stores ch under id and sends it REGISTER-USER.
func (r *Registry) RegisterAs(id string, ch Channel) error {
	if id == "" {
		return fmt.Errorf("register: %w", ErrUnknownClient)
	}
	r.mu.Lock()
	if _, ok := r.conns[id]; ok {
		r.mu.Unlock()
		return ErrDuplicateClient
	}
	r.conns[id] = ch
	r.mu.Unlock()

	b, err := EncodeFrame(id, TypeRegisterUser, nil)
	if err == nil {
		err = ch.Send(b)
	}
	if err != nil {
		r.Unregister(id)
		return fmt.Errorf("register %s: %w", id, err)
	}
	return nil
}

// Get returns the channel for id.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.conns[id]
	return ch, ok
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok && r.onLeave != nil {
		r.onLeave(id)
	}
	return ok
}

// BroadcastExcept sends payload to every open channel other than sender's.
// Closed peers and send failures are skipped. Returns the delivered count.
func (r *Registry) BroadcastExcept(sender string, payload []byte) int {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.conns))
	for id, ch := range r.conns {
		if id != sender {
			targets = append(targets, ch)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, ch := range targets {
		if !ch.Open() {
			continue
		}
		if ch.Send(payload) == nil {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
