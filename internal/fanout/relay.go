package fanout

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/averlane/courier/internal/bus"
)

// Event is the wire form relayed between processes: a target user and an
// opaque payload.
type Event struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// Relay connects a local registry to the shared notification channel. Every
// process publishes user events to the channel and every process (including
// the publisher) delivers what it receives to its own local connections, so a
// user is reached no matter which process holds their stream.
type Relay struct {
	bus      bus.Bus
	registry *Registry
	channel  string
	logger   *zap.Logger
	unsub    func()
}

// NewRelay wires a relay over the given bus and registry. channel names the
// shared pub/sub topic.
func NewRelay(b bus.Bus, registry *Registry, channel string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		bus:      b,
		registry: registry,
		channel:  channel,
		logger:   logger.With(zap.String("component", "relay")),
	}
}

// Start subscribes the relay to the shared channel and begins delivering
// inbound events locally.
func (r *Relay) Start(ctx context.Context) error {
	unsub, err := r.bus.Subscribe(ctx, r.channel, func(payload []byte) {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			r.logger.Debug("malformed relay event dropped", zap.Error(err))
			return
		}
		r.registry.DeliverLocal(ev.UserID, ev.Data)
	})
	if err != nil {
		return err
	}
	r.unsub = unsub
	return nil
}

// Publish broadcasts an event for userID to every process on the channel.
// Local delivery happens through the subscription like everyone else's.
func (r *Relay) Publish(ctx context.Context, userID string, data json.RawMessage) error {
	payload, err := json.Marshal(Event{UserID: userID, Data: data})
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, r.channel, payload)
}

// Close detaches the relay from the channel.
func (r *Relay) Close() error {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	return nil
}
