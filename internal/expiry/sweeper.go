package expiry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the sweep cadence when none is configured.
const DefaultInterval = 10 * time.Minute

// Sweeper periodically runs Store.Sweep. A failed sweep is logged and the
// loop continues; the next tick retries the same work because the sweep is
// idempotent.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper wires a sweeper over store. interval <= 0 uses DefaultInterval.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.With(zap.String("component", "expiry")),
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a
// no-op.
func (s *Sweeper) Start() {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.store.Sweep(context.Background(), 0); err != nil {
					s.logger.Error("sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.stop = nil
}
