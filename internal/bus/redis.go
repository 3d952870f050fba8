package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Bus backed by Redis pub/sub channels. Redis broadcasts every
// published message to every subscribed connection, across processes, which is
// exactly the delivery model Bus promises.
type Redis struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[uint64]*redisSub
	nextID uint64
	closed bool
}

type redisSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewRedis connects a bus to the given Redis server. Ping verifies the
// connection up front so misconfiguration fails at startup, not at first use.
func NewRedis(ctx context.Context, addr, password string, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{
		client: client,
		logger: logger.With(zap.String("component", "bus")),
		subs:   make(map[uint64]*redisSub),
	}, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrBusClosed
	}
	r.mu.Unlock()
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrBusClosed
	}
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, topic)
	// Wait for the SUBSCRIBE confirmation so callers can publish immediately
	// after Subscribe returns without racing the registration.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSub{pubsub: pubsub, done: make(chan struct{})}
	r.mu.Lock()
	r.subs[id] = sub
	r.mu.Unlock()

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(sub.done)
			if err := pubsub.Close(); err != nil {
				r.logger.Warn("pubsub close failed", zap.Error(err))
			}
			sub.wg.Wait()
		})
	}
	return unsub, nil
}

// Close stops every subscription and releases the Redis client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[uint64]*redisSub)
	r.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
		_ = sub.pubsub.Close()
		sub.wg.Wait()
	}
	return r.client.Close()
}
