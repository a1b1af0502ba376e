// Package membus is an in-memory message bus. It backs the "mem://" scheme
// and is the reference implementation of the bus contract: bounded receive
// with a wait ceiling, delivery locks, non-destructive peek, and a
// per-destination dead-letter sub-destination.
package membus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"busrelay/relay/bus"
)

// DeadLetterSuffix is appended to a destination's internal name to form its
// dead-letter sub-destination. Dead-lettered messages can be read back by
// opening a receiver on `destination + DeadLetterSuffix`.
const DeadLetterSuffix = "/$deadletter"

const pollInterval = 5 * time.Millisecond

// Broker holds queues and topic subscriptions. One Broker instance is shared
// by every client it hands out, so tests can seed and inspect destinations
// while an executor works against them.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*queue
	topics map[string]map[string]struct{}
}

type queue struct {
	available []bus.Message
	locked    map[string]bus.Message
}

func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*queue),
		topics: make(map[string]map[string]struct{}),
	}
}

// Dial implements bus.Dialer. Every connection string maps to this broker;
// the string itself carries no routing information in memory mode.
func (b *Broker) Dial(ctx context.Context, connectionString string) (bus.Client, error) {
	return &client{broker: b}, nil
}

// Subscribe registers a subscription on a topic. Messages sent to the topic
// after this call fan out to the subscription's queue.
func (b *Broker) Subscribe(topic, subscription string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]struct{})
		b.topics[topic] = subs
	}
	subs[subscription] = struct{}{}
	b.ensureQueue(entityName(topic, subscription))
}

// MessageCount reports how many messages are available (not locked) on a
// destination. Test helper.
func (b *Broker) MessageCount(destination, subscription string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[entityName(destination, subscription)]
	if !ok {
		return 0
	}
	return len(q.available)
}

func (b *Broker) ensureQueue(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{locked: make(map[string]bus.Message)}
		b.queues[name] = q
	}
	return q
}

func (b *Broker) enqueue(name string, msg bus.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[name]; ok {
		for sub := range subs {
			sq := b.ensureQueue(entityName(name, sub))
			sq.available = append(sq.available, msg)
		}
		return
	}
	q := b.ensureQueue(name)
	q.available = append(q.available, msg)
}

// take moves up to n messages from available to locked and returns them.
func (b *Broker) take(name string, n int) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.ensureQueue(name)
	if n > len(q.available) {
		n = len(q.available)
	}
	out := make([]bus.Message, 0, n)
	for _, msg := range q.available[:n] {
		q.locked[msg.ID] = msg
		out = append(out, msg)
	}
	q.available = q.available[n:]
	return out
}

func (b *Broker) peek(name string, n int) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.ensureQueue(name)
	if n > len(q.available) {
		n = len(q.available)
	}
	out := make([]bus.Message, n)
	copy(out, q.available[:n])
	return out
}

// settle removes a locked message and optionally routes it elsewhere.
func (b *Broker) settle(name, id string, route func(q *queue, msg bus.Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.ensureQueue(name)
	msg, ok := q.locked[id]
	if !ok {
		return fmt.Errorf("membus: message %s is not locked on %s", id, name)
	}
	delete(q.locked, id)
	if route != nil {
		route(q, msg)
	}
	return nil
}

// entityName resolves a (destination, subscription) pair to the internal
// queue name. An empty subscription means plain queue semantics.
func entityName(destination, subscription string) string {
	if subscription == "" {
		return destination
	}
	return destination + "|" + subscription
}

type client struct {
	broker *Broker
	mu     sync.Mutex
	closed bool
}

func (c *client) NewSender(destination string) (bus.Sender, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return &sender{client: c, destination: destination}, nil
}

func (c *client) NewReceiver(destination, subscription string) (bus.Receiver, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return &receiver{client: c, entity: entityName(destination, subscription)}, nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("membus: client already closed")
	}
	c.closed = true
	return nil
}

func (c *client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("membus: client is closed")
	}
	return nil
}

type sender struct {
	client      *client
	destination string
	closed      bool
}

func (s *sender) Send(ctx context.Context, msg bus.Message) error {
	if s.closed {
		return fmt.Errorf("membus: sender is closed")
	}
	if err := s.client.check(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	s.client.broker.enqueue(s.destination, msg)
	return nil
}

func (s *sender) Close() error {
	s.closed = true
	return nil
}

type receiver struct {
	client *client
	entity string
	closed bool
}

func (r *receiver) Receive(ctx context.Context, maxMessages int, maxWait time.Duration) ([]bus.Message, error) {
	if r.closed {
		return nil, fmt.Errorf("membus: receiver is closed")
	}

	deadline := time.Now().Add(maxWait)
	out := make([]bus.Message, 0, maxMessages)
	for {
		out = append(out, r.client.broker.take(r.entity, maxMessages-len(out))...)
		if len(out) >= maxMessages || !time.Now().Before(deadline) {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (r *receiver) Peek(ctx context.Context, maxMessages int) ([]bus.Message, error) {
	if r.closed {
		return nil, fmt.Errorf("membus: receiver is closed")
	}
	return r.client.broker.peek(r.entity, maxMessages), nil
}

func (r *receiver) Complete(ctx context.Context, msg bus.Message) error {
	return r.client.broker.settle(r.entity, msg.ID, nil)
}

func (r *receiver) Abandon(ctx context.Context, msg bus.Message) error {
	// Redelivered messages go back to the front of the queue.
	return r.client.broker.settle(r.entity, msg.ID, func(q *queue, m bus.Message) {
		q.available = append([]bus.Message{m}, q.available...)
	})
}

func (r *receiver) DeadLetter(ctx context.Context, msg bus.Message) error {
	broker := r.client.broker
	return broker.settle(r.entity, msg.ID, func(q *queue, m bus.Message) {
		dlq := broker.ensureQueue(r.entity + DeadLetterSuffix)
		dlq.available = append(dlq.available, m)
	})
}

func (r *receiver) Close() error {
	r.closed = true
	return nil
}
