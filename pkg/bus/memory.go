package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and anywhere a real Redis
// server is unavailable; it has no external dependency and delivers
// published messages synchronously to matching subscribers.
type MemoryBus struct {
	mu          sync.Mutex
	subscribers map[string][]chan Message
}

// NewMemoryBus constructs a ready-to-use in-process bus. Connect is a
// no-op for parity with Bus implementations that need one.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subscribers: make(map[string][]chan Message)}
}

func (b *MemoryBus) Connect(ctx context.Context) error { return nil }

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- Message{Topic: topic, Payload: payload}:
		case <-ctx.Done():
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics ...string) (<-chan Message, error) {
	out := make(chan Message, 16)
	b.mu.Lock()
	for _, topic := range topics {
		b.subscribers[topic] = append(b.subscribers[topic], out)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, topic := range topics {
			subs := b.subscribers[topic]
			for i, ch := range subs {
				if ch == out {
					b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		close(out)
	}()
	return out, nil
}

func (b *MemoryBus) Close() error { return nil }
