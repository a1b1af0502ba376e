package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"busrelay/relay/bus"
)

// Executor performs one relay operation (send or receive) against a bus
// destination and produces one output record per processed unit of work.
type Executor struct {
	l       *slog.Logger
	dialer  bus.Dialer
	metrics *Metrics
}

func NewExecutor(l *slog.Logger, dialer bus.Dialer, metrics *Metrics) *Executor {
	return &Executor{
		l:       l,
		dialer:  dialer,
		metrics: metrics,
	}
}

// Execute runs the configured operation for the execution's input items.
// On send it returns one record per input item, in input order; on receive it
// returns a single record summarizing the fetched batch.
func (x *Executor) Execute(exec *Execution, cfg Config) ([]map[string]any, error) {
	switch cfg.Operation {
	case OperationSend:
		return x.send(exec, cfg)
	case OperationReceive:
		return x.receive(exec, cfg)
	default:
		return nil, fmt.Errorf("unknown operation '%s'", cfg.Operation)
	}
}

func (x *Executor) send(exec *Execution, cfg Config) ([]map[string]any, error) {
	defer x.metrics.observe(OperationSend, time.Now())

	client, err := x.dialer.Dial(exec, cfg.ConnectionString)
	if err != nil {
		return nil, opError(OperationSend, err)
	}
	defer x.release(exec, "client", client)

	sender, err := client.NewSender(cfg.DestinationName)
	if err != nil {
		return nil, opError(OperationSend, err)
	}
	defer x.release(exec, "sender", sender)

	items := exec.InputItems()
	records := make([]map[string]any, 0, len(items))
	for i := range items {
		body, err := x.transmit(exec, sender, cfg, i)
		if err != nil {
			x.metrics.sent(cfg.DestinationName, "failure")
			if !exec.ContinueOnFail() {
				return nil, itemError(OperationSend, i, err)
			}
			x.l.WarnContext(exec, "message transmission failed, continuing",
				"destination", cfg.DestinationName,
				"itemIndex", i,
				"error", err)
			records = append(records, map[string]any{
				"success":   false,
				"itemIndex": i,
				"error":     err.Error(),
			})
			continue
		}
		x.metrics.sent(cfg.DestinationName, "success")
		records = append(records, map[string]any{
			"success":     true,
			"itemIndex":   i,
			"messageSent": body,
		})
	}

	x.l.InfoContext(exec, "send completed",
		"destination", cfg.DestinationName,
		"items", len(items))
	return records, nil
}

// transmit resolves one input item's message body and sends it as a single
// message.
func (x *Executor) transmit(exec *Execution, sender bus.Sender, cfg Config, itemIndex int) (any, error) {
	body, err := exec.Parameter("messageBody", itemIndex)
	if err != nil {
		return nil, err
	}
	payload, err := EncodeBody(body)
	if err != nil {
		return nil, err
	}
	if err := sender.Send(exec, bus.Message{ID: uuid.New().String(), Body: payload}); err != nil {
		return nil, err
	}
	return body, nil
}

func (x *Executor) receive(exec *Execution, cfg Config) ([]map[string]any, error) {
	defer x.metrics.observe(OperationReceive, time.Now())

	client, err := x.dialer.Dial(exec, cfg.ConnectionString)
	if err != nil {
		return nil, opError(OperationReceive, err)
	}
	defer x.release(exec, "client", client)

	receiver, err := client.NewReceiver(cfg.DestinationName, cfg.SubscriptionName)
	if err != nil {
		return nil, opError(OperationReceive, err)
	}
	defer x.release(exec, "receiver", receiver)

	var msgs []bus.Message
	if cfg.ReceiveMode == ReceiveModePeek {
		msgs, err = receiver.Peek(exec, cfg.MaxMessages)
	} else {
		msgs, err = receiver.Receive(exec, cfg.MaxMessages, time.Duration(cfg.MaxWaitTimeMs)*time.Millisecond)
	}
	if err != nil {
		return nil, opError(OperationReceive, err)
	}

	if cfg.ReceiveMode != ReceiveModePeek {
		// Exactly one post-processing action per fetched message, in fetch order.
		for _, msg := range msgs {
			if err := x.settle(exec, receiver, cfg.PostProcessAction, msg); err != nil {
				return nil, opError(OperationReceive, err)
			}
		}
		x.metrics.received(cfg.DestinationName, cfg.PostProcessAction, len(msgs))
	} else {
		x.metrics.received(cfg.DestinationName, "peek", len(msgs))
	}

	bodies := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		bodies = append(bodies, DecodeBody(msg.Body))
	}

	x.l.InfoContext(exec, "receive completed",
		"destination", cfg.DestinationName,
		"subscription", cfg.SubscriptionName,
		"mode", cfg.ReceiveMode,
		"messages", len(msgs))

	return []map[string]any{{
		"success":          true,
		"operation":        OperationReceive,
		"destinationName":  cfg.DestinationName,
		"subscriptionName": cfg.SubscriptionName,
		"messagesReceived": bodies,
	}}, nil
}

func (x *Executor) settle(exec *Execution, receiver bus.Receiver, action string, msg bus.Message) error {
	var err error
	switch action {
	case ActionComplete:
		err = receiver.Complete(exec, msg)
	case ActionAbandon:
		err = receiver.Abandon(exec, msg)
	case ActionDeadLetter:
		err = receiver.DeadLetter(exec, msg)
	default:
		return fmt.Errorf("unknown post-processing action '%s'", action)
	}
	if err != nil {
		return fmt.Errorf("%s failed for message %s: %w", action, msg.ID, err)
	}
	return nil
}

// release closes a handle on every exit path. Close failures are logged, not
// returned, so they never mask an in-flight operation error.
func (x *Executor) release(ctx context.Context, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		x.l.ErrorContext(ctx, "failed to close "+name, "error", err)
	}
}
