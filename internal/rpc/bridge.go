package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/averlane/courier/internal/bus"
)

// ErrTimeout reports that no responder answered within the call deadline.
var ErrTimeout = errors.New("rpc: call timed out")

// ErrUnavailable reports that the request could not be published at all.
var ErrUnavailable = errors.New("rpc: transport unavailable")

// ErrClosed reports a call against a closed bridge.
var ErrClosed = errors.New("rpc: bridge closed")

const (
	reqTopicPrefix  = "rpc/req/"
	respTopicPrefix = "rpc/resp/"
)

type request struct {
	CorrelationID string          `json:"correlation_id"`
	Capability    string          `json:"capability"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type response struct {
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Bridge turns the broadcast bus into a request/response channel. Each call
// carries a fresh correlation id; the response subscription for a capability
// is established before the first request is published, so a fast responder
// can never answer into the void.
type Bridge struct {
	bus    bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	pending   map[string]chan response
	listening map[string]func()
	closed    bool
}

// NewBridge wires a bridge over the given bus.
func NewBridge(b bus.Bus, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		bus:       b,
		logger:    logger.With(zap.String("component", "rpc")),
		pending:   make(map[string]chan response),
		listening: make(map[string]func()),
	}
}

// Listen subscribes to the response topic for capability. Call returns
// ErrUnavailable from the subscribe failure path; once Listen succeeds, later
// calls for the same capability reuse the subscription.
func (br *Bridge) Listen(ctx context.Context, capability string) error {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.closed {
		return ErrClosed
	}
	if _, ok := br.listening[capability]; ok {
		return nil
	}
	unsub, err := br.bus.Subscribe(ctx, respTopicPrefix+capability, br.onResponse)
	if err != nil {
		return errors.CombineErrors(ErrUnavailable, err)
	}
	br.listening[capability] = unsub
	return nil
}

// onResponse resolves the pending call matching the correlation id. Responses
// with no waiter (late, duplicate, or foreign) are dropped.
func (br *Bridge) onResponse(payload []byte) {
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		br.logger.Debug("malformed rpc response dropped", zap.Error(err))
		return
	}

	br.mu.Lock()
	ch, ok := br.pending[resp.CorrelationID]
	if ok {
		delete(br.pending, resp.CorrelationID)
	}
	br.mu.Unlock()

	if !ok {
		return
	}
	ch <- resp // buffered; never blocks
}

// Call publishes a request for capability and waits for the matching response.
// A timeout <= 0 falls back to 5s. On timeout or cancellation the pending
// entry is removed before returning, so abandoned calls never leak.
func (br *Bridge) Call(ctx context.Context, capability string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := br.Listen(ctx, capability); err != nil {
		return nil, err
	}

	corrID := uuid.NewString()
	ch := make(chan response, 1)

	br.mu.Lock()
	if br.closed {
		br.mu.Unlock()
		return nil, ErrClosed
	}
	br.pending[corrID] = ch
	br.mu.Unlock()

	drop := func() {
		br.mu.Lock()
		delete(br.pending, corrID)
		br.mu.Unlock()
	}

	req, err := json.Marshal(request{CorrelationID: corrID, Capability: capability, Payload: payload})
	if err != nil {
		drop()
		return nil, errors.Wrap(err, "rpc: encode request")
	}
	if err := br.bus.Publish(ctx, reqTopicPrefix+capability, req); err != nil {
		drop()
		return nil, errors.CombineErrors(ErrUnavailable, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, errors.Newf("rpc: remote error: %s", resp.Error)
		}
		return resp.Payload, nil
	case <-timer.C:
		drop()
		return nil, errors.Wrapf(ErrTimeout, "capability %s after %s", capability, timeout)
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

// Close tears down response subscriptions and fails all in-flight calls.
func (br *Bridge) Close() error {
	br.mu.Lock()
	if br.closed {
		br.mu.Unlock()
		return nil
	}
	br.closed = true
	pending := br.pending
	br.pending = make(map[string]chan response)
	listening := br.listening
	br.listening = make(map[string]func())
	br.mu.Unlock()

	for _, unsub := range listening {
		unsub()
	}
	for id, ch := range pending {
		ch <- response{CorrelationID: id, Error: "bridge closed"}
	}
	return nil
}

// pendingCount reports the number of unresolved calls.
func (br *Bridge) pendingCount() int {
	br.mu.Lock()
	defer br.mu.Unlock()
	return len(br.pending)
}
