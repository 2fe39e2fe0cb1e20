// Package bus defines the publish/subscribe transport the daemon uses to
// talk to the rest of the cash-handling system, generalizing the
// request/response Bus shape used elsewhere in this module's lineage to
// pub/sub instead of framed device traffic.
package bus

import "context"

// Message is one inbound delivery on a subscribed topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is a minimal publish/subscribe transport. Connect must be called
// before Publish or Subscribe. A single Bus may be backed by one or two
// underlying connections; callers should not assume which.
type Bus interface {
	// Connect establishes the underlying transport connection(s).
	Connect(ctx context.Context) error
	// Publish sends payload on topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe returns a channel delivering every message published to
	// any of the given topics until ctx is cancelled, at which point the
	// channel is closed.
	Subscribe(ctx context.Context, topics ...string) (<-chan Message, error)
	// Close releases the underlying connection(s).
	Close() error
}
