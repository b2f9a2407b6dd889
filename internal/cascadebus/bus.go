package cascadebus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/roach88/viewql/internal/cache"
)

// DefaultSubject carries cascades between processes sharing a database.
const DefaultSubject = "viewql.cascade"

// Publisher is the publishing half of *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber is the subscribing half of *nats.Conn.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// ApplyFunc invalidates a cascade locally and returns the entries removed.
type ApplyFunc func(cache.CascadeMetadata) int

// Bus publishes local cascades and applies cascades published by peers.
// Each bus has a random origin id so it can skip its own messages.
type Bus struct {
	pub     Publisher
	subject string
	origin  string
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// Option configures a Bus.
type Option func(*Bus)

// WithSubject overrides DefaultSubject.
func WithSubject(s string) Option {
	return func(b *Bus) {
		b.subject = s
	}
}

// WithOrigin sets the origin id. Defaults to a random UUID.
func WithOrigin(id string) Option {
	return func(b *Bus) {
		b.origin = id
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New creates a bus publishing through pub.
func New(pub Publisher, opts ...Option) *Bus {
	b := &Bus{
		pub:     pub,
		subject: DefaultSubject,
		origin:  uuid.NewString(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// Origin returns the id stamped on published envelopes.
func (b *Bus) Origin() string {
	return b.origin
}

// Publish sends c to peers.
func (b *Bus) Publish(ctx context.Context, c cache.CascadeMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(b.origin, c)
	if err != nil {
		return err
	}
	if err := b.pub.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", b.subject, err)
	}
	b.logger.Debug("cascade published",
		"subject", b.subject,
		"updated", len(c.Updated),
		"deleted", len(c.Deleted),
	)
	return nil
}

// Subscribe applies every peer cascade on the bus subject with apply.
func (b *Bus) Subscribe(s Subscriber, apply ApplyFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return fmt.Errorf("cascade bus already subscribed to %s", b.subject)
	}
	sub, err := s.Subscribe(b.subject, b.handler(apply))
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	b.sub = sub
	b.logger.Info("subscribed to cascade subject", "subject", b.subject, "origin", b.origin)
	return nil
}

func (b *Bus) handler(apply ApplyFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		env, err := Decode(msg.Data)
		if err != nil {
			b.logger.Warn("dropping cascade message", "subject", msg.Subject, "error", err)
			return
		}
		if env.Origin == b.origin {
			return
		}
		n := apply(env.Cascade())
		b.logger.Debug("peer cascade applied",
			"origin", env.Origin,
			"invalidated", n,
		)
	}
}

// Close stops the subscription, if any.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	return err
}
