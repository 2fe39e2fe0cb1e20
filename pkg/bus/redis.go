package bus

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over two Redis connections, mirroring
// payoutd.c's split between a publish-only and a subscribe-only
// redisAsyncContext: publishing never blocks on the subscribe
// connection's read loop, and vice versa.
type RedisBus struct {
	addr string

	publishClient   *redis.Client
	subscribeClient *redis.Client
}

// NewRedisBus constructs a bus targeting a single Redis server address
// (host:port), opening independent publish and subscribe connections to
// it on Connect.
func NewRedisBus(addr string) *RedisBus {
	return &RedisBus{addr: addr}
}

func (b *RedisBus) Connect(ctx context.Context) error {
	b.publishClient = redis.NewClient(&redis.Options{Addr: b.addr})
	if err := b.publishClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bus: publish connection: %w", err)
	}

	b.subscribeClient = redis.NewClient(&redis.Options{Addr: b.addr})
	if err := b.subscribeClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("bus: subscribe connection: %w", err)
	}
	log.Infof("[BUS] connected to redis at %s", b.addr)
	return nil
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.publishClient.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (<-chan Message, error) {
	pubsub := b.subscribeClient.Subscribe(ctx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("bus: subscribe %v: %w", topics, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error {
	var err error
	if b.publishClient != nil {
		if e := b.publishClient.Close(); e != nil {
			err = e
		}
	}
	if b.subscribeClient != nil {
		if e := b.subscribeClient.Close(); e != nil {
			err = e
		}
	}
	return err
}
