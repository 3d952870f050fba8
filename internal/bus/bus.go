package bus

import "context"

// Handler consumes one message published to a topic. Handlers run on a
// delivery goroutine and must not block for long.
type Handler func(payload []byte)

// Bus is a broadcast publish/subscribe transport. Every subscriber of a topic
// receives every message published to it, including messages published by the
// same process. Delivery is best-effort fan-out; there is no replay.
type Bus interface {
	// Publish sends payload to all current subscribers of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic. The returned function removes
	// the subscription; it is safe to call more than once.
	Subscribe(ctx context.Context, topic string, handler Handler) (func(), error)

	// Close releases the transport. Subscriptions stop receiving.
	Close() error
}
