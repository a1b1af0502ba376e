package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Message is a single unit of work on the bus. Handle carries the
// backend-specific delivery handle needed for post-processing and is opaque
// to callers.
type Message struct {
	ID     string
	Body   []byte
	Handle any
}

// Sender transmits messages to one destination.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Receiver fetches messages from one destination and settles them.
// A fetched message must be settled via exactly one of Complete, Abandon, or
// DeadLetter; Peek fetches without locking and requires no settlement.
type Receiver interface {
	// Receive fetches up to maxMessages, waiting at most maxWait for messages
	// to arrive. It may return fewer than maxMessages, including zero, once
	// the wait elapses.
	Receive(ctx context.Context, maxMessages int, maxWait time.Duration) ([]Message, error)

	// Peek returns up to maxMessages without removing or locking them.
	Peek(ctx context.Context, maxMessages int) ([]Message, error)

	// Complete marks a fetched message as delivered and removes it.
	Complete(ctx context.Context, msg Message) error

	// Abandon releases a fetched message so it becomes available for redelivery.
	Abandon(ctx context.Context, msg Message) error

	// DeadLetter moves a fetched message to the destination's dead-letter
	// sub-destination.
	DeadLetter(ctx context.Context, msg Message) error

	Close() error
}

// Client is an open connection to a bus namespace. Senders and receivers are
// bound to a destination: a queue name, or a (topic, subscription) pair when
// subscription is non-empty.
type Client interface {
	NewSender(destination string) (Sender, error)
	NewReceiver(destination, subscription string) (Receiver, error)
	Close() error
}

// Dialer opens a client from an opaque connection string.
type Dialer interface {
	Dial(ctx context.Context, connectionString string) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, connectionString string) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, connectionString string) (Client, error) {
	return f(ctx, connectionString)
}

// Registry routes connection strings to dialers by scheme
// (e.g. "amqp://..." to the AMQP dialer).
type Registry struct {
	mu      sync.RWMutex
	dialers map[string]Dialer
}

func NewRegistry() *Registry {
	return &Registry{dialers: make(map[string]Dialer)}
}

func (r *Registry) Register(scheme string, d Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[scheme] = d
}

func (r *Registry) Dial(ctx context.Context, connectionString string) (Client, error) {
	scheme, _, ok := strings.Cut(connectionString, "://")
	if !ok {
		return nil, fmt.Errorf("bus: connection string has no scheme")
	}

	r.mu.RLock()
	d, exists := r.dialers[scheme]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("bus: no dialer registered for scheme '%s'", scheme)
	}
	return d.Dial(ctx, connectionString)
}
