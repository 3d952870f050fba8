package runtime

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	cfgpkg "github.com/averlane/courier/internal/config"
	"github.com/averlane/courier/internal/expiry"
	"github.com/averlane/courier/internal/jobqueue"
	pebblestore "github.com/averlane/courier/internal/storage/pebble"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  *zap.Logger
}

// Runtime wires storage, config, and facades for a single-node instance.
// Queues are cached so every caller of OpenQueue shares one claim mutex per
// queue name.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
	logger *zap.Logger

	mu     sync.Mutex
	queues map[string]*jobqueue.Queue
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:     db,
		config: opts.Config,
		logger: opts.Logger,
		queues: make(map[string]*jobqueue.Queue),
	}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	r.mu.Lock()
	for _, q := range r.queues {
		q.StopReclaimer()
	}
	r.queues = make(map[string]*jobqueue.Queue)
	r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// OpenQueue returns the named job queue, creating it on first use with the
// configured retry defaults.
func (r *Runtime) OpenQueue(name string) *jobqueue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q
	}
	q := jobqueue.Open(r.db, name, jobqueue.Options{
		MaxAttempts: r.config.DefaultMaxAttempts,
		BaseDelay:   r.config.DefaultBaseDelay,
	}, r.logger)
	r.queues[name] = q
	return q
}

// OpenExpiryStore returns the expirable-entity store.
func (r *Runtime) OpenExpiryStore() *expiry.Store {
	return expiry.NewStore(r.db, r.logger)
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *zap.Logger { return r.logger }
