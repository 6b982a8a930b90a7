package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"canvas-sync/internal/app"
	"github.com/redis/go-redis/v9"
)

// Bus message kinds.
const (
	KindRelay   = "relay"   // raw peer frame
	KindMutated = "mutated" // scope changed; run a refresh
)

type BusMessage struct {
	Scope   string `json:"scope"`
	Origin  string `json:"origin"` // publishing instance
	Kind    string `json:"kind"`
	Payload []byte `json:"payload,omitempty"`
}

// Bus fans messages out to the other server instances.
type Bus interface {
	Publish(ctx context.Context, m BusMessage) error
	Subscribe(ctx context.Context, fn func(BusMessage))
	Close()
}

type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisBus connects to redis and verifies connectivity
func NewRedisBus(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &RedisBus{rdb: rdb, log: log}, nil
}

// Publish sends a message to the redis channel for a scope
func (b *RedisBus) Publish(ctx context.Context, m BusMessage) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel(m.Scope), raw).Err()
}

// Subscribe listens to all scope channels and invokes fn for each message
func (b *RedisBus) Subscribe(ctx context.Context, fn func(BusMessage)) {
	pubsub := b.rdb.PSubscribe(ctx, channel("*"))
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var bm BusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &bm); err != nil {
				b.log.Warn("bus.decode", "channel", msg.Channel, "err", err)
				continue
			}
			if bm.Scope != "" {
				fn(bm)
			}
		}
	}
}

// Close shuts down the redis connection
func (b *RedisBus) Close() { _ = b.rdb.Close() }

// channel namespacing for scope pub/sub
func channel(scope string) string { return "canvas:" + scope }
