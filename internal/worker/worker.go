package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/averlane/courier/internal/jobqueue"
)

// Processor handles jobs of one type pulled from a queue.
type Processor interface {
	// Type names the job type this processor handles.
	Type() string
	// Process performs the work. A nil return acknowledges the job; an
	// error schedules a retry or, past the attempt ceiling, fails it.
	Process(ctx context.Context, job *jobqueue.Job) error
}

const defaultIdleWait = 2 * time.Second

// Runner drains one queue with one processor. Every dequeued job is settled
// exactly once, by Ack on success or Nack on failure, never both.
type Runner struct {
	queue     *jobqueue.Queue
	processor Processor
	leaseMs   int64
	idleWait  time.Duration
	logger    *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRunner wires a runner. lease <= 0 falls back to 30s.
func NewRunner(q *jobqueue.Queue, p Processor, lease time.Duration, logger *zap.Logger) *Runner {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:     q,
		processor: p,
		leaseMs:   lease.Milliseconds(),
		idleWait:  defaultIdleWait,
		logger:    logger.With(zap.String("queue", q.Name()), zap.String("type", p.Type())),
	}
}

// Start launches the processing loop.
func (r *Runner) Start() {
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run()
	}()
}

// Stop halts the loop after the in-flight job settles.
func (r *Runner) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	r.wg.Wait()
	r.stop = nil
}

func (r *Runner) run() {
	ctx := context.Background()
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		jobs, err := r.queue.Dequeue(ctx, 1, r.leaseMs, 0)
		if err != nil {
			r.logger.Error("dequeue failed", zap.Error(err))
			r.queue.WaitForJob(r.idleWait)
			continue
		}
		if len(jobs) == 0 {
			// Blocks until an enqueue/reclaim notification or the idle
			// timeout; the timeout re-checks for delayed retries coming due.
			r.queue.WaitForJob(r.idleWait)
			continue
		}
		r.handle(ctx, jobs[0])
	}
}

// handle settles job with exactly one of Ack or Nack.
func (r *Runner) handle(ctx context.Context, job *jobqueue.Job) {
	if job.Retry() {
		r.logger.Info("retrying job",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempts+1),
			zap.String("last_error", job.LastError),
		)
	} else {
		r.logger.Info("processing job", zap.String("job_id", job.ID))
	}

	if err := r.processor.Process(ctx, job); err != nil {
		r.logger.Warn("job attempt failed", zap.String("job_id", job.ID), zap.Error(err))
		if nerr := r.queue.Nack(ctx, job.ID, err, 0); nerr != nil {
			r.logger.Error("nack failed", zap.String("job_id", job.ID), zap.Error(nerr))
		}
		return
	}
	if aerr := r.queue.Ack(ctx, job.ID); aerr != nil {
		r.logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(aerr))
	}
}
