package indexcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"luma-backend/internal/logger"
)

// Event operations
const (
	OpInvalidate = "invalidate"
	OpEvict      = "evict"
)

// Event is a cache change broadcast between processes.
type Event struct {
	Op         string `json:"op"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id,omitempty"`
	Origin     string `json:"origin"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisBus fans cache invalidations out over Redis pub/sub so the API and the
// worker never serve an index the other has made stale.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	nodeID  string
}

func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, nodeID: uuid.NewString()}
}

// NodeID identifies this process on the bus.
func (b *RedisBus) NodeID() string {
	return b.nodeID
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	ev.Origin = b.nodeID
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Attach subscribes c to the bus and makes c publish its own changes. It
// returns once the subscription is active; delivery stops when ctx ends.
func (b *RedisBus) Attach(ctx context.Context, c *Cache) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	c.SetPublisher(b)

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("Dropping malformed index event", "error", err)
					continue
				}
				if ev.Origin == b.nodeID {
					continue
				}
				c.apply(ev)
			}
		}
	}()
	return nil
}
