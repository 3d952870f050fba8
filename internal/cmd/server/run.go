package serverrun

import (
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/averlane/courier/internal/bus"
	cfgpkg "github.com/averlane/courier/internal/config"
	"github.com/averlane/courier/internal/expiry"
	"github.com/averlane/courier/internal/fanout"
	"github.com/averlane/courier/internal/rpc"
	"github.com/averlane/courier/internal/runtime"
	httpserver "github.com/averlane/courier/internal/server/http"
	pebblestore "github.com/averlane/courier/internal/storage/pebble"
	"github.com/averlane/courier/internal/worker"
)

type Options struct {
	DataDir  string
	HTTPAddr string
	Fsync    pebblestore.FsyncMode
	Config   cfgpkg.Config
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if format != "json" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return cfg.Build()
}

// resolveDataDir picks the data directory: explicit flag, then the
// COURIER_DATA_DIR value carried in cfg, then the platform default.
func resolveDataDir(flagDir string, cfg cfgpkg.Config) string {
	if flagDir != "" {
		return flagDir
	}
	if cfg.DataDir != "" {
		return cfg.DataDir
	}
	return cfgpkg.DefaultDataDir()
}

// Run starts the HTTP server, workers, reclaimers, relay, and sweeper, and
// blocks until ctx is cancelled. The caller owns signal handling.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	opts.DataDir = resolveDataDir(opts.DataDir, cfg)
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = cfg.HTTPAddr
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := runtime.Open(runtime.Options{
		DataDir: filepath.Join(opts.DataDir, "store"),
		Fsync:   opts.Fsync,
		Config:  cfg,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Transport: Redis spans processes; the in-process bus serves single-node
	// deployments with identical semantics.
	var transport bus.Bus
	if cfg.RedisAddr != "" {
		transport, err = bus.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, logger)
		if err != nil {
			return errors.Wrap(err, "connect redis bus")
		}
	} else {
		transport = bus.NewMemory()
	}
	defer transport.Close()

	logger.Info("starting courier server",
		zap.String("http", opts.HTTPAddr),
		zap.String("data_dir", opts.DataDir),
		zap.Bool("redis", cfg.RedisAddr != ""),
	)

	registry := fanout.NewRegistry(logger)
	defer registry.Close()
	relay := fanout.NewRelay(transport, registry, cfg.NotifyChannel, logger)
	if err := relay.Start(ctx); err != nil {
		return errors.Wrap(err, "start relay")
	}
	defer relay.Close()

	emailQ := rt.OpenQueue(cfg.EmailQueue)
	smsQ := rt.OpenQueue(cfg.SMSQueue)
	emailQ.StartReclaimer(cfg.ReclaimInterval, 0)
	smsQ.StartReclaimer(cfg.ReclaimInterval, 0)

	sweeper := expiry.NewSweeper(rt.OpenExpiryStore(), cfg.SweepInterval, logger)
	sweeper.Start()
	defer sweeper.Stop()

	emailRunner := worker.NewRunner(emailQ, worker.NewEmailProcessor(nil, logger), cfg.Lease, logger)
	smsRunner := worker.NewRunner(smsQ, worker.NewSMSProcessor(nil, logger), cfg.Lease, logger)
	emailRunner.Start()
	smsRunner.Start()
	defer emailRunner.Stop()
	defer smsRunner.Stop()

	// Queue stats answered over the bus so any process in the deployment can
	// interrogate this node's queues without an HTTP hop.
	responder := rpc.NewResponder(transport, logger)
	defer responder.Close()
	err = responder.Handle(ctx, "queue.stats", func(hctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Queue string `json:"queue"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, errors.Wrap(err, "decode stats request")
		}
		if req.Queue == "" {
			return nil, errors.New("queue is required")
		}
		stats, err := rt.OpenQueue(req.Queue).Stats(hctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stats)
	})
	if err != nil {
		return errors.Wrap(err, "register queue.stats responder")
	}

	// The HTTP stats route calls the capability over the bus rather than
	// reading the local queues directly, so the same route works against a
	// node that delegates stats to a peer.
	bridge := rpc.NewBridge(transport, logger)
	defer bridge.Close()

	hsrv := httpserver.New(rt, registry, relay, bridge, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hsrv.ListenAndServe(gctx, opts.HTTPAddr) })

	err = g.Wait()
	hsrv.Close()
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("courier server stopped")
	return nil
}
