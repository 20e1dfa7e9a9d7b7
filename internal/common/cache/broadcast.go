package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/redis"
)

// Invalidation is the message peers exchange after a write.
type Invalidation struct {
	Origin   string   `json:"origin"`
	Keys     []string `json:"keys,omitempty"`
	Prefixes []string `json:"prefixes,omitempty"`
}

// Broadcaster publishes local invalidations and applies the ones published by
// other instances to this process's LocalCache.
type Broadcaster struct {
	client  *redis.Client
	channel string
	id      string
	local   *LocalCache
	logger  logging.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func NewBroadcaster(client *redis.Client, channel string, local *LocalCache, logger logging.Logger) *Broadcaster {
	id := uuid.NewString()
	return &Broadcaster{
		client:  client,
		channel: channel,
		id:      id,
		local:   local,
		logger: logging.OrGlobal(logger).WithFields(
			logging.String("component", "invalidation_broadcaster"),
			logging.String("instance_id", id),
		),
		ready: make(chan struct{}),
	}
}

// InstanceID identifies this process in published messages.
func (b *Broadcaster) InstanceID() string {
	return b.id
}

// Publish announces that keys and every key under prefixes changed.
func (b *Broadcaster) Publish(ctx context.Context, keys, prefixes []string) error {
	if len(keys) == 0 && len(prefixes) == 0 {
		return nil
	}

	msg := Invalidation{Origin: b.id, Keys: keys, Prefixes: prefixes}
	if err := b.client.Publish(ctx, b.channel, msg); err != nil {
		return errors.CacheError("publish invalidation", err)
	}
	return nil
}

// Ready is closed once Listen's subscription is active.
func (b *Broadcaster) Ready() <-chan struct{} {
	return b.ready
}

// Listen applies peer invalidations until ctx is cancelled.
func (b *Broadcaster) Listen(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.ConnectionError(fmt.Sprintf("failed to subscribe to %s", b.channel), err)
	}
	b.readyOnce.Do(func() { close(b.ready) })

	b.logger.Info("Listening for cache invalidations", logging.String("channel", b.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.apply(msg.Payload)
		}
	}
}

func (b *Broadcaster) apply(payload string) {
	var msg Invalidation
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Warn("Ignoring malformed invalidation message", logging.Err(err))
		return
	}
	if msg.Origin == b.id {
		return
	}

	for _, key := range msg.Keys {
		b.local.Delete(key)
	}
	removed := 0
	for _, prefix := range msg.Prefixes {
		removed += b.local.InvalidatePrefix(prefix)
	}

	b.logger.Debug("Applied peer invalidation",
		logging.String("origin", msg.Origin),
		logging.Int("keys", len(msg.Keys)),
		logging.Int("prefixed_removed", removed),
	)
}
