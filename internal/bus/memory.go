package bus

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrBusClosed reports an operation on a closed bus.
var ErrBusClosed = errors.New("bus: closed")

type memorySub struct {
	id      uint64
	handler Handler
}

// Memory is an in-process Bus. Handlers are invoked on per-message goroutines
// so a slow subscriber never blocks the publisher or its peers.
type Memory struct {
	mu     sync.Mutex
	nextID uint64
	topics map[string][]memorySub
	closed bool
	wg     sync.WaitGroup
}

// NewMemory returns an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{topics: make(map[string][]memorySub)}
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrBusClosed
	}
	subs := make([]memorySub, len(m.topics[topic]))
	copy(subs, m.topics[topic])
	m.wg.Add(len(subs))
	m.mu.Unlock()

	// Payload is shared across handlers; handlers must not mutate it.
	for _, s := range subs {
		s := s
		go func() {
			defer m.wg.Done()
			s.handler(payload)
		}()
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string, handler Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrBusClosed
	}
	m.nextID++
	id := m.nextID
	m.topics[topic] = append(m.topics[topic], memorySub{id: id, handler: handler})

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			subs := m.topics[topic]
			for i, s := range subs {
				if s.id == id {
					m.topics[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(m.topics[topic]) == 0 {
				delete(m.topics, topic)
			}
		})
	}
	return unsub, nil
}

// Close drops all subscriptions and waits for in-flight deliveries.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.topics = make(map[string][]memorySub)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
