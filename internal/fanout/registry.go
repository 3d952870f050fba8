package fanout

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const connBuffer = 64

// LiveConnection is the server side of one user's event stream. Events are
// buffered; when the consumer falls behind the buffer, further events are
// dropped rather than blocking the fan-out path.
type LiveConnection struct {
	userID string

	mu     sync.Mutex
	ch     chan json.RawMessage
	closed bool
}

// UserID returns the owner of the connection.
func (c *LiveConnection) UserID() string { return c.userID }

// Events is the stream to drain. It is closed when the connection completes.
func (c *LiveConnection) Events() <-chan json.RawMessage { return c.ch }

// push delivers one event. Pushing to a completed connection is a no-op.
func (c *LiveConnection) push(data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- data:
	default:
		// Consumer is not keeping up; drop.
	}
}

// complete closes the event stream. Idempotent.
func (c *LiveConnection) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Registry tracks at most one live connection per user in this process.
type Registry struct {
	logger *zap.Logger

	mu    sync.Mutex
	conns map[string]*LiveConnection
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger.With(zap.String("component", "fanout")),
		conns:  make(map[string]*LiveConnection),
	}
}

// Connect registers a fresh connection for userID. A newer connection replaces
// an older one: the prior stream is completed so its consumer unwinds, and all
// subsequent events go to the new connection only.
func (r *Registry) Connect(userID string) *LiveConnection {
	conn := &LiveConnection{
		userID: userID,
		ch:     make(chan json.RawMessage, connBuffer),
	}

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if prev != nil {
		prev.complete()
		r.logger.Debug("replaced live connection", zap.String("user_id", userID))
	}
	return conn
}

// Disconnect completes conn and removes it from the registry, but only if it
// is still the current connection for its user. A connection that was already
// replaced by a newer Connect is completed without touching the newer entry.
func (r *Registry) Disconnect(conn *LiveConnection) {
	r.mu.Lock()
	if r.conns[conn.userID] == conn {
		delete(r.conns, conn.userID)
	}
	r.mu.Unlock()
	conn.complete()
}

// DeliverLocal pushes data to userID's connection in this process. Users with
// no live connection are skipped silently.
func (r *Registry) DeliverLocal(userID string, data json.RawMessage) {
	r.mu.Lock()
	conn := r.conns[userID]
	r.mu.Unlock()
	if conn == nil {
		return
	}
	conn.push(data)
}

// Close completes every live connection, e.g. on server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*LiveConnection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.complete()
	}
}
