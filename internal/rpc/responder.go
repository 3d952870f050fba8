package rpc

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/averlane/courier/internal/bus"
)

// HandlerFunc serves one capability. A non-nil error is reported to the caller
// as a remote error string.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Responder serves capabilities over the bus. Every responder subscribed to a
// capability receives every request (the bus broadcasts); deployments that
// want a single authoritative answer run one responder per capability.
type Responder struct {
	bus    bus.Bus
	logger *zap.Logger
	unsubs []func()
}

// NewResponder wires a responder over the given bus.
func NewResponder(b bus.Bus, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{bus: b, logger: logger.With(zap.String("component", "rpc"))}
}

// Handle registers handler for capability and begins answering requests.
func (r *Responder) Handle(ctx context.Context, capability string, handler HandlerFunc) error {
	unsub, err := r.bus.Subscribe(ctx, reqTopicPrefix+capability, func(payload []byte) {
		var req request
		if err := json.Unmarshal(payload, &req); err != nil {
			r.logger.Debug("malformed rpc request dropped", zap.Error(err))
			return
		}

		resp := response{CorrelationID: req.CorrelationID}
		result, err := handler(ctx, req.Payload)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Payload = result
		}

		out, err := json.Marshal(resp)
		if err != nil {
			r.logger.Error("encode rpc response", zap.Error(err))
			return
		}
		if err := r.bus.Publish(ctx, respTopicPrefix+capability, out); err != nil {
			r.logger.Warn("publish rpc response failed",
				zap.String("capability", capability),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return err
	}
	r.unsubs = append(r.unsubs, unsub)
	return nil
}

// Close stops serving all capabilities.
func (r *Responder) Close() error {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	return nil
}
