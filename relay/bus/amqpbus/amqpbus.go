// Package amqpbus adapts a RabbitMQ broker to the bus contract. It backs the
// "amqp://" and "amqps://" schemes.
//
// Destination mapping: a plain destination is a queue; a (topic, subscription)
// pair maps to the queue "<topic>.<subscription>". Dead-lettered messages are
// republished to "<queue>.deadletter".
package amqpbus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"busrelay/relay/bus"
)

const (
	deadLetterSuffix = ".deadletter"
	pollInterval     = 50 * time.Millisecond
)

type Dialer struct{}

func (Dialer) Dial(ctx context.Context, connectionString string) (bus.Client, error) {
	conn, err := amqp.Dial(connectionString)
	if err != nil {
		return nil, fmt.Errorf("amqpbus: failed to connect: %w", err)
	}
	return &client{conn: conn}, nil
}

type client struct {
	conn *amqp.Connection
}

func (c *client) NewSender(destination string) (bus.Sender, error) {
	ch, err := c.channel(destination)
	if err != nil {
		return nil, err
	}
	return &sender{ch: ch, queue: destination}, nil
}

func (c *client) NewReceiver(destination, subscription string) (bus.Receiver, error) {
	queue := queueName(destination, subscription)
	ch, err := c.channel(queue)
	if err != nil {
		return nil, err
	}
	return &receiver{ch: ch, queue: queue}, nil
}

func (c *client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("amqpbus: failed to close connection: %w", err)
	}
	return nil
}

// channel opens a channel and declares the queue so senders and receivers
// can be created against destinations that don't exist yet.
func (c *client) channel(queue string) (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqpbus: failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqpbus: failed to declare queue %s: %w", queue, err)
	}
	return ch, nil
}

func queueName(destination, subscription string) string {
	if subscription == "" {
		return destination
	}
	return destination + "." + subscription
}

type sender struct {
	ch    *amqp.Channel
	queue string
}

func (s *sender) Send(ctx context.Context, msg bus.Message) error {
	return s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   msg.ID,
		Body:        msg.Body,
	})
}

func (s *sender) Close() error {
	return s.ch.Close()
}

type receiver struct {
	ch    *amqp.Channel
	queue string
}

func (r *receiver) Receive(ctx context.Context, maxMessages int, maxWait time.Duration) ([]bus.Message, error) {
	deadline := time.Now().Add(maxWait)
	out := make([]bus.Message, 0, maxMessages)
	for {
		delivery, ok, err := r.ch.Get(r.queue, false)
		if err != nil {
			return nil, fmt.Errorf("amqpbus: failed to fetch from %s: %w", r.queue, err)
		}
		if ok {
			out = append(out, wrap(delivery))
			if len(out) >= maxMessages {
				return out, nil
			}
			continue
		}
		if !time.Now().Before(deadline) {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Peek fetches without acking and immediately requeues. AMQP has no true
// browse primitive; redelivery order after the requeue is broker-dependent.
func (r *receiver) Peek(ctx context.Context, maxMessages int) ([]bus.Message, error) {
	out := make([]bus.Message, 0, maxMessages)
	var deliveries []amqp.Delivery
	for len(out) < maxMessages {
		delivery, ok, err := r.ch.Get(r.queue, false)
		if err != nil {
			return nil, fmt.Errorf("amqpbus: failed to fetch from %s: %w", r.queue, err)
		}
		if !ok {
			break
		}
		deliveries = append(deliveries, delivery)
		out = append(out, wrap(delivery))
	}
	for _, d := range deliveries {
		if err := d.Nack(false, true); err != nil {
			return nil, fmt.Errorf("amqpbus: failed to requeue after peek: %w", err)
		}
	}
	return out, nil
}

func (r *receiver) Complete(ctx context.Context, msg bus.Message) error {
	d, err := delivery(msg)
	if err != nil {
		return err
	}
	return d.Ack(false)
}

func (r *receiver) Abandon(ctx context.Context, msg bus.Message) error {
	d, err := delivery(msg)
	if err != nil {
		return err
	}
	return d.Nack(false, true)
}

func (r *receiver) DeadLetter(ctx context.Context, msg bus.Message) error {
	d, err := delivery(msg)
	if err != nil {
		return err
	}
	if _, err := r.ch.QueueDeclare(r.queue+deadLetterSuffix, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqpbus: failed to declare dead-letter queue: %w", err)
	}
	err = r.ch.PublishWithContext(ctx, "", r.queue+deadLetterSuffix, false, false, amqp.Publishing{
		ContentType: d.ContentType,
		MessageId:   d.MessageId,
		Body:        d.Body,
	})
	if err != nil {
		return fmt.Errorf("amqpbus: failed to publish to dead-letter queue: %w", err)
	}
	return d.Ack(false)
}

func (r *receiver) Close() error {
	return r.ch.Close()
}

func wrap(d amqp.Delivery) bus.Message {
	id := d.MessageId
	if id == "" {
		id = fmt.Sprintf("%d", d.DeliveryTag)
	}
	return bus.Message{ID: id, Body: d.Body, Handle: d}
}

func delivery(msg bus.Message) (amqp.Delivery, error) {
	d, ok := msg.Handle.(amqp.Delivery)
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("amqpbus: message %s has no AMQP delivery handle", msg.ID)
	}
	return d, nil
}
