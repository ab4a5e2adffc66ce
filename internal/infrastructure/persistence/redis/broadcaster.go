package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/schooladmin/recordsync/internal/application/crud"
	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE BROADCAST
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the pub/sub channel for change notices.
const DefaultChannel = "recordsync:changes"

// Notice is the wire form of a change.
type Notice struct {
	Origin uuid.UUID    `json:"origin"`
	Kind   records.Kind `json:"kind"`
	Op     string       `json:"op"`
	ID     *records.ID  `json:"id,omitempty"`
	At     time.Time    `json:"at"`
}

// PubSub is the part of the Redis client the broadcaster uses.
type PubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Broadcaster publishes local writes and delivers peers' notices. It
// implements crud.Notifier.
type Broadcaster struct {
	client  PubSub
	channel string
	origin  uuid.UUID
	logger  *logger.Logger
	now     func() time.Time
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithChannel overrides the channel name.
func WithChannel(ch string) BroadcasterOption {
	return func(b *Broadcaster) {
		if ch != "" {
			b.channel = ch
		}
	}
}

// WithOrigin sets the instance id stamped on published notices.
func WithOrigin(id uuid.UUID) BroadcasterOption {
	return func(b *Broadcaster) { b.origin = id }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = l }
}

// NewBroadcaster creates a Broadcaster with a fresh origin id.
func NewBroadcaster(client PubSub, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		client:  client,
		channel: DefaultChannel,
		origin:  uuid.New(),
		logger:  logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(logger.Component("broadcast"))
	return b
}

// Origin returns this instance's id.
func (b *Broadcaster) Origin() uuid.UUID { return b.origin }

// Publish announces a successful local write.
func (b *Broadcaster) Publish(ctx context.Context, c crud.Change) error {
	data, err := json.Marshal(Notice{
		Origin: b.origin,
		Kind:   c.Kind,
		Op:     c.Op,
		ID:     c.ID,
		At:     b.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe delivers notices from other instances to handler until ctx is
// done. Own notices and malformed payloads are skipped. It blocks; run it in
// a goroutine.
func (b *Broadcaster) Subscribe(ctx context.Context, handler func(context.Context, Notice)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	b.logger.Info("listening for changes", logger.String("channel", b.channel))
	return b.consume(ctx, sub.Channel(), handler)
}

func (b *Broadcaster) consume(ctx context.Context, ch <-chan *redis.Message, handler func(context.Context, Notice)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			n, ok := b.accept(msg.Payload)
			if !ok {
				continue
			}
			handler(ctx, n)
		}
	}
}

func (b *Broadcaster) accept(payload string) (Notice, bool) {
	var n Notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		b.logger.Warn("malformed change notice", logger.Err(err))
		return Notice{}, false
	}
	if n.Origin == b.origin {
		return Notice{}, false
	}
	if !n.Kind.Valid() {
		b.logger.Warn("change notice for unknown kind", logger.Kind(string(n.Kind)))
		return Notice{}, false
	}
	return n, true
}

// Loader reloads one kind.
type Loader interface {
	Load(ctx context.Context, kind records.Kind) ([]records.Record, error)
}

// ReloadHandler returns a handler that reloads the kind named by each notice.
// Reload failures are logged; the next notice or prefetch will catch up.
func ReloadHandler(l Loader, log *logger.Logger) func(context.Context, Notice) {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, n Notice) {
		if _, err := l.Load(ctx, n.Kind); err != nil {
			log.Warn("reload after peer change failed", logger.Kind(string(n.Kind)), logger.Err(err))
			return
		}
		log.Debug("reloaded after peer change", logger.Kind(string(n.Kind)), logger.Operation(n.Op))
	}
}
