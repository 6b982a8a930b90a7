package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"canvas-sync/pkg/metrics"
)

// DefaultScope is used when a connection names no project.
const DefaultScope = "default"

// DefaultReadLimit caps inbound frames when the hub is not configured.
const DefaultReadLimit = 16 << 20

type Hub struct {
	log    *slog.Logger
	bus    Bus    // nil when running single-instance
	origin string // this instance on the bus

	mu    sync.RWMutex
	rooms map[string]*Room // active rooms by scope

	// ReadLimit is the largest inbound frame in bytes; bigger frames close
	// the connection.
	ReadLimit int64

	// OnRegister runs after a new connection got its REGISTER-USER frame.
	OnRegister func(ctx context.Context, rm *Room, clientID string)
	// OnRemoteMutation runs when another instance mutated scope.
	OnRemoteMutation func(ctx context.Context, scope string)
}

// NewHub sets up the hub. bus may be nil.
func NewHub(logger *slog.Logger, bus Bus) *Hub {
	return &Hub{log: logger, bus: bus, origin: uuid.NewString(), rooms: map[string]*Room{}, ReadLimit: DefaultReadLimit}
}

// Run listens to the bus and forwards foreign messages to local rooms
func (h *Hub) Run(ctx context.Context) {
	if h.bus == nil {
		<-ctx.Done()
		return
	}
	h.bus.Subscribe(ctx, func(msg BusMessage) {
		if msg.Origin == h.origin {
			return
		}
		switch msg.Kind {
		case KindRelay:
			if rm, ok := h.Lookup(msg.Scope); ok {
				rm.Registry.BroadcastExcept("", msg.Payload)
			}
		case KindMutated:
			// cached state is stale even without local clients
			if h.OnRemoteMutation != nil {
				h.OnRemoteMutation(ctx, msg.Scope)
			}
		}
	})
}

// Room returns the Room for a scope, creating it if needed
func (h *Hub) Room(scope string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm := h.rooms[scope]
	if rm == nil {
		rm = NewRoom(scope)
		h.rooms[scope] = rm
	}
	return rm
}

// Lookup returns the Room for a scope without creating it.
func (h *Hub) Lookup(scope string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm, ok := h.rooms[scope]
	return rm, ok
}

// Relay floods a raw frame to every other connection of the scope, here and
// on other instances.
func (h *Hub) Relay(ctx context.Context, scope, sender string, payload []byte) {
	if rm, ok := h.Lookup(scope); ok {
		n := rm.Registry.BroadcastExcept(sender, payload)
		metrics.RelayedFrames.Add(float64(n))
	}
	if h.bus != nil {
		err := h.bus.Publish(ctx, BusMessage{Scope: scope, Origin: h.origin, Kind: KindRelay, Payload: payload})
		if err != nil {
			h.log.Warn("bus.publish", "scope", scope, "err", err)
		}
	}
}

// PublishMutation tells other instances that scope changed.
func (h *Hub) PublishMutation(ctx context.Context, scope string) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, BusMessage{Scope: scope, Origin: h.origin, Kind: KindMutated}); err != nil {
		h.log.Warn("bus.publish", "scope", scope, "err", err)
	}
}

// ServeWS handles a new /ws connection for a project scope
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("project")
	if scope == "" {
		scope = DefaultScope
	}

	conn, err := Accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}
	conn.SetReadLimit(h.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := NewConn(conn)
	go c.WriteLoop(ctx)

	rm := h.Room(scope)
	id, err := rm.Join(c)
	if err != nil {
		h.log.Error("ws.register", "scope", scope, "err", err)
		_ = c.Close()
		return
	}
	metrics.Connections.Inc()
	h.log.Info("ws.connected", "scope", scope, "client", id)

	if h.OnRegister != nil {
		h.OnRegister(ctx, rm, id)
	}

	// Inbound reader relays every frame verbatim
	for {
		payload, ok := c.Read(ctx)
		if !ok {
			break
		}
		h.Relay(ctx, scope, id, payload)
	}

	// Registry and tracker are both cleared before we return
	rm.Leave(id)
	metrics.Connections.Dec()
	_ = c.Close()
	h.log.Info("ws.disconnected", "scope", scope, "client", id)
}
