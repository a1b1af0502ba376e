// Package sqsbus adapts Amazon SQS to the bus contract. It backs the "sqs://"
// scheme; the connection string names the region ("sqs://eu-west-1") and
// credentials come from the default AWS credential chain.
//
// Destination mapping: a plain destination is a queue name; a (topic,
// subscription) pair maps to the queue "<topic>-<subscription>". Dead-lettered
// messages are forwarded to "<queue>-dlq" and deleted from the source queue.
package sqsbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"busrelay/relay/bus"
)

const (
	deadLetterSuffix = "-dlq"

	// SQS hard limits per ReceiveMessage call.
	maxBatchSize    = 10
	maxLongPollSecs = 20
)

type Dialer struct{}

func (Dialer) Dial(ctx context.Context, connectionString string) (bus.Client, error) {
	region := strings.TrimPrefix(connectionString, "sqs://")
	if region == "" || region == connectionString {
		return nil, fmt.Errorf("sqsbus: connection string must have the form sqs://<region>")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("sqsbus: failed to load AWS config: %w", err)
	}
	return &client{sqs: sqs.NewFromConfig(cfg), urls: make(map[string]string)}, nil
}

type client struct {
	sqs  *sqs.Client
	mu   sync.Mutex
	urls map[string]string
}

func (c *client) NewSender(destination string) (bus.Sender, error) {
	return &sender{client: c, queue: destination}, nil
}

func (c *client) NewReceiver(destination, subscription string) (bus.Receiver, error) {
	return &receiver{client: c, queue: queueName(destination, subscription)}, nil
}

// Close is a no-op: the underlying SQS client is plain HTTP and holds no
// connection state of its own.
func (c *client) Close() error {
	return nil
}

func (c *client) queueURL(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if url, ok := c.urls[name]; ok {
		return url, nil
	}
	out, err := c.sqs.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("sqsbus: failed to resolve queue %s: %w", name, err)
	}
	url := aws.ToString(out.QueueUrl)
	c.urls[name] = url
	return url, nil
}

func queueName(destination, subscription string) string {
	if subscription == "" {
		return destination
	}
	return destination + "-" + subscription
}

type sender struct {
	client *client
	queue  string
}

func (s *sender) Send(ctx context.Context, msg bus.Message) error {
	url, err := s.client.queueURL(ctx, s.queue)
	if err != nil {
		return err
	}
	_, err = s.client.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(msg.Body)),
	})
	if err != nil {
		return fmt.Errorf("sqsbus: failed to send to %s: %w", s.queue, err)
	}
	return nil
}

func (s *sender) Close() error {
	return nil
}

type receiver struct {
	client *client
	queue  string
}

func (r *receiver) Receive(ctx context.Context, maxMessages int, maxWait time.Duration) ([]bus.Message, error) {
	return r.fetch(ctx, maxMessages, maxWait, -1)
}

// Peek fetches with a zero visibility timeout, so messages stay available to
// other consumers and are never settled.
func (r *receiver) Peek(ctx context.Context, maxMessages int) ([]bus.Message, error) {
	return r.fetch(ctx, maxMessages, 0, 0)
}

// fetch loops ReceiveMessage calls until maxMessages are collected or the
// wait ceiling elapses. visibility >= 0 overrides the queue's visibility
// timeout.
func (r *receiver) fetch(ctx context.Context, maxMessages int, maxWait time.Duration, visibility int32) ([]bus.Message, error) {
	url, err := r.client.queueURL(ctx, r.queue)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(maxWait)
	out := make([]bus.Message, 0, maxMessages)
	for {
		batch := maxMessages - len(out)
		if batch > maxBatchSize {
			batch = maxBatchSize
		}
		wait := int32(time.Until(deadline) / time.Second)
		if wait < 0 {
			wait = 0
		}
		if wait > maxLongPollSecs {
			wait = maxLongPollSecs
		}

		input := &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: int32(batch),
			WaitTimeSeconds:     wait,
		}
		if visibility >= 0 {
			input.VisibilityTimeout = visibility
		}

		resp, err := r.client.sqs.ReceiveMessage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("sqsbus: failed to receive from %s: %w", r.queue, err)
		}
		for _, m := range resp.Messages {
			out = append(out, bus.Message{
				ID:     aws.ToString(m.MessageId),
				Body:   []byte(aws.ToString(m.Body)),
				Handle: aws.ToString(m.ReceiptHandle),
			})
		}
		if len(out) >= maxMessages || !time.Now().Before(deadline) {
			return out, nil
		}
	}
}

func (r *receiver) Complete(ctx context.Context, msg bus.Message) error {
	url, handle, err := r.settleTarget(ctx, msg)
	if err != nil {
		return err
	}
	_, err = r.client.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("sqsbus: failed to delete message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *receiver) Abandon(ctx context.Context, msg bus.Message) error {
	url, handle, err := r.settleTarget(ctx, msg)
	if err != nil {
		return err
	}
	_, err = r.client.sqs.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("sqsbus: failed to release message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *receiver) DeadLetter(ctx context.Context, msg bus.Message) error {
	dlqURL, err := r.client.queueURL(ctx, r.queue+deadLetterSuffix)
	if err != nil {
		return err
	}
	_, err = r.client.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(dlqURL),
		MessageBody: aws.String(string(msg.Body)),
	})
	if err != nil {
		return fmt.Errorf("sqsbus: failed to dead-letter message %s: %w", msg.ID, err)
	}
	return r.Complete(ctx, msg)
}

func (r *receiver) Close() error {
	return nil
}

func (r *receiver) settleTarget(ctx context.Context, msg bus.Message) (url, handle string, err error) {
	handle, ok := msg.Handle.(string)
	if !ok || handle == "" {
		return "", "", fmt.Errorf("sqsbus: message %s has no receipt handle", msg.ID)
	}
	url, err = r.client.queueURL(ctx, r.queue)
	return url, handle, err
}
