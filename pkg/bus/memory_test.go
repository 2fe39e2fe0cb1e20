package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "hopper-event")
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Publish(ctx, "hopper-event", []byte(`{"event":"empty"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-msgs:
		if msg.Topic != "hopper-event" {
			t.Fatalf("topic = %q, want hopper-event", msg.Topic)
		}
		if string(msg.Payload) != `{"event":"empty"}` {
			t.Fatalf("payload = %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBusIgnoresOtherTopics(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx, "validator-event")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "hopper-event", []byte("x")); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
