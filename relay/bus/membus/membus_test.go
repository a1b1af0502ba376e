package membus

import (
	"context"
	"testing"
	"time"

	"busrelay/relay/bus"
)

func newClient(t *testing.T, broker *Broker) bus.Client {
	t.Helper()
	client, err := broker.Dial(context.Background(), "mem://local")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return client
}

func send(t *testing.T, client bus.Client, destination string, bodies ...string) {
	t.Helper()
	sender, err := client.NewSender(destination)
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	defer sender.Close()
	for _, body := range bodies {
		if err := sender.Send(context.Background(), bus.Message{Body: []byte(body)}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
}

func newReceiver(t *testing.T, client bus.Client, destination, subscription string) bus.Receiver {
	t.Helper()
	r, err := client.NewReceiver(destination, subscription)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}
	return r
}

func TestReceive_LocksMessages(t *testing.T) {
	broker := NewBroker()
	client := newClient(t, broker)
	send(t, client, "q", "a", "b")

	r := newReceiver(t, client, "q", "")
	msgs, err := r.Receive(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}

	// The locked message is invisible to peeks and other receives.
	if count := broker.MessageCount("q", ""); count != 1 {
		t.Errorf("Expected 1 available message while one is locked, got %d", count)
	}
	peeked, _ := r.Peek(context.Background(), 10)
	if len(peeked) != 1 || string(peeked[0].Body) != "b" {
		t.Errorf("Expected peek to see only 'b', got %v", peeked)
	}
}

func TestComplete_RemovesMessage(t *testing.T) {
	broker := NewBroker()
	client := newClient(t, broker)
	send(t, client, "q", "a")

	r := newReceiver(t, client, "q", "")
	msgs, _ := r.Receive(context.Background(), 1, 0)
	if err := r.Complete(context.Background(), msgs[0]); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if count := broker.MessageCount("q", ""); count != 0 {
		t.Errorf("Expected queue empty after complete, got %d", count)
	}

	// A second settlement of the same message must fail.
	if err := r.Complete(context.Background(), msgs[0]); err == nil {
		t.Error("Expected error when completing an already-settled message")
	}
}

func TestAbandon_RedeliversFirst(t *testing.T) {
	broker := NewBroker()
	client := newClient(t, broker)
	send(t, client, "q", "a", "b")

	r := newReceiver(t, client, "q", "")
	msgs, _ := r.Receive(context.Background(), 1, 0)
	if string(msgs[0].Body) != "a" {
		t.Fatalf("Expected to fetch 'a' first, got %s", msgs[0].Body)
	}
	if err := r.Abandon(context.Background(), msgs[0]); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	redelivered, _ := r.Receive(context.Background(), 1, 0)
	if len(redelivered) != 1 || string(redelivered[0].Body) != "a" {
		t.Errorf("Expected 'a' to be redelivered first, got %v", redelivered)
	}
}

func TestDeadLetter_MovesToSubDestination(t *testing.T) {
	broker := NewBroker()
	client := newClient(t, broker)
	send(t, client, "q", "a")

	r := newReceiver(t, client, "q", "")
	msgs, _ := r.Receive(context.Background(), 1, 0)
	if err := r.DeadLetter(context.Background(), msgs[0]); err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}

	if count := broker.MessageCount("q", ""); count != 0 {
		t.Errorf("Expected source queue empty, got %d", count)
	}

	dlq := newReceiver(t, client, "q"+DeadLetterSuffix, "")
	moved, _ := dlq.Receive(context.Background(), 10, 0)
	if len(moved) != 1 || string(moved[0].Body) != "a" {
		t.Errorf("Expected 'a' on the dead-letter sub-destination, got %v", moved)
	}
}

func TestReceive_WaitCeiling(t *testing.T) {
	broker := NewBroker()
	client := newClient(t, broker)
	r := newReceiver(t, client, "empty", "")

	start := time.Now()
	msgs, err := r.Receive(context.Background(), 5, 50*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected no messages, got %d", len(msgs))
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("Receive returned before the wait ceiling: %v", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Receive overshot the wait ceiling: %v", elapsed)
	}
}

func TestReceive_ReturnsEarlyWhenFull(t *testing.T) {
	broker := NewBroker()
	client := newClient(t, broker)
	send(t, client, "q", "a", "b", "c")

	r := newReceiver(t, client, "q", "")
	start := time.Now()
	msgs, err := r.Receive(context.Background(), 2, 10*time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(msgs))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Receive should return as soon as the batch is full, took %v", elapsed)
	}
}

func TestTopic_FanOut(t *testing.T) {
	broker := NewBroker()
	broker.Subscribe("events", "audit")
	broker.Subscribe("events", "billing")

	client := newClient(t, broker)
	send(t, client, "events", "a")

	for _, sub := range []string{"audit", "billing"} {
		if count := broker.MessageCount("events", sub); count != 1 {
			t.Errorf("Expected 1 message on subscription %s, got %d", sub, count)
		}
	}
	// The topic itself holds nothing.
	if count := broker.MessageCount("events", ""); count != 0 {
		t.Errorf("Expected no messages on the bare topic, got %d", count)
	}
}

func TestClosedHandles(t *testing.T) {
	broker := NewBroker()
	client := newClient(t, broker)

	sender, _ := client.NewSender("q")
	sender.Close()
	if err := sender.Send(context.Background(), bus.Message{Body: []byte("a")}); err == nil {
		t.Error("Expected error sending on a closed sender")
	}

	r := newReceiver(t, client, "q", "")
	r.Close()
	if _, err := r.Receive(context.Background(), 1, 0); err == nil {
		t.Error("Expected error receiving on a closed receiver")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err == nil {
		t.Error("Expected error on double close")
	}
	if _, err := client.NewSender("q"); err == nil {
		t.Error("Expected error creating sender on a closed client")
	}
}
