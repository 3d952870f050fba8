package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	pebblestore "github.com/averlane/courier/internal/storage/pebble"
	"github.com/averlane/courier/pkg/id"
)

// ErrQueueUnavailable reports that the backing store rejected an enqueue.
// Callers may retry; the queue itself does not.
var ErrQueueUnavailable = errors.New("jobqueue: backing store unavailable")

// ErrJobNotFound reports an ack/nack/get against an unknown or purged job.
var ErrJobNotFound = errors.New("jobqueue: job not found")

// Queue is a named, durable, at-least-once work queue with delayed retry.
// All mutations commit through atomic store batches; claim operations are
// additionally serialized by the queue mutex so no two workers lease the same
// job.
type Queue struct {
	db     *pebblestore.DB
	name   string
	gen    *id.Generator
	logger *zap.Logger

	defaults Options

	mu       sync.Mutex
	notifyMu sync.Mutex
	notifyCh chan struct{}

	reclaimStop chan struct{}
	reclaimWG   sync.WaitGroup
}

// Open initializes a queue over the shared store. Zero-valued defaults fall
// back to 1 attempt / 1s base delay.
func Open(db *pebblestore.DB, name string, defaults Options, logger *zap.Logger) *Queue {
	if defaults.MaxAttempts < 1 {
		defaults.MaxAttempts = 1
	}
	if defaults.BaseDelay <= 0 {
		defaults.BaseDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		db:       db,
		name:     name,
		gen:      id.NewGenerator(),
		logger:   logger.With(zap.String("queue", name)),
		defaults: defaults,
		notifyCh: make(chan struct{}),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue stores a job durably in pending state and makes it immediately
// visible to workers. If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload []byte, opts Options, nowMs int64) (string, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	opts, err := opts.withDefaults(q.defaults)
	if err != nil {
		return "", err
	}

	job := &Job{
		ID:               q.gen.Next().String(),
		Queue:            q.name,
		Type:             jobType,
		Payload:          payload,
		MaxAttempts:      opts.MaxAttempts,
		BaseDelayMs:      opts.BaseDelay.Milliseconds(),
		RemoveOnComplete: opts.RemoveOnComplete,
		RemoveOnFail:     opts.RemoveOnFail,
		State:            StatePending,
		CreatedMs:        nowMs,
	}
	val, err := encodeJob(job)
	if err != nil {
		return "", errors.Wrap(err, "jobqueue: encode job")
	}

	b := q.db.NewBatch()
	defer b.Close()
	if err := b.Set(jobKey(q.name, job.ID), val, nil); err != nil {
		return "", errors.CombineErrors(ErrQueueUnavailable, err)
	}
	if err := b.Set(readyKey(q.name, nowMs, job.ID), nil, nil); err != nil {
		return "", errors.CombineErrors(ErrQueueUnavailable, err)
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return "", errors.CombineErrors(ErrQueueUnavailable, err)
	}

	q.notify()
	return job.ID, nil
}

// notify wakes any workers blocked in WaitForJob.
func (q *Queue) notify() {
	q.notifyMu.Lock()
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
	q.notifyMu.Unlock()
}

// WaitForJob blocks until an enqueue or reclaim may have made work available,
// or until timeout elapses. Returns true if woken by a notification.
func (q *Queue) WaitForJob(timeout time.Duration) bool {
	q.notifyMu.Lock()
	ch := q.notifyCh
	q.notifyMu.Unlock()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Dequeue atomically claims up to count ready jobs (earliest ready first),
// transitions them to active, and writes leases expiring after leaseMs.
// If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *Queue) Dequeue(ctx context.Context, count int, leaseMs int64, nowMs int64) ([]*Job, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if count <= 0 {
		count = 1
	}
	if leaseMs <= 0 {
		leaseMs = 30_000
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	lo, hi := keyRange(queuePrefix(q.name) + prefixReady)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	b := q.db.NewBatch()
	defer b.Close()

	jobs := make([]*Job, 0, count)
	for ok := iter.First(); ok && len(jobs) < count; ok = iter.Next() {
		k := iter.Key()
		readyMs, jobID, okKey := timeKeySuffix(k, len(lo))
		if !okKey {
			continue
		}
		if readyMs > nowMs {
			// Index is time-ordered; nothing further is ready.
			break
		}
		val, errGet := q.db.Get(jobKey(q.name, jobID))
		if errGet != nil {
			// Orphaned index entry; drop it.
			_ = b.Delete(k, nil)
			continue
		}
		job, errDec := decodeJob(val)
		if errDec != nil {
			_ = b.Delete(k, nil)
			continue
		}

		job.State = StateActive
		job.LastAttemptMs = nowMs
		updated, errEnc := encodeJob(job)
		if errEnc != nil {
			return nil, errors.Wrap(errEnc, "jobqueue: encode job")
		}
		exp := nowMs + leaseMs
		if err := b.Set(jobKey(q.name, job.ID), updated, nil); err != nil {
			return nil, err
		}
		if err := b.Set(leaseKey(q.name, job.ID), encodeLease(&lease{JobID: job.ID, ExpiresMs: exp}), nil); err != nil {
			return nil, err
		}
		if err := b.Set(leaseIdxKey(q.name, exp, job.ID), nil, nil); err != nil {
			return nil, err
		}
		if err := b.Delete(k, nil); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	// Commit whenever the scan staged anything: claims, or deletes of
	// orphaned index entries that would otherwise be rescanned every pass.
	if b.Count() > 0 {
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Ack marks a job completed. With RemoveOnComplete the job is purged;
// otherwise it stays queryable in completed state.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	b := q.db.NewBatch()
	defer b.Close()
	q.clearLease(b, jobID)

	if job.RemoveOnComplete {
		if err := b.Delete(jobKey(q.name, jobID), nil); err != nil {
			return err
		}
	} else {
		job.State = StateCompleted
		val, errEnc := encodeJob(job)
		if errEnc != nil {
			return errors.Wrap(errEnc, "jobqueue: encode job")
		}
		if err := b.Set(jobKey(q.name, jobID), val, nil); err != nil {
			return err
		}
	}
	return q.db.CommitBatch(ctx, b)
}

// Nack records a failed attempt. Below the attempt ceiling the job returns to
// pending with exponential backoff (baseDelay * 2^(attempts-1)); at the
// ceiling it becomes failed and is retained for inspection unless
// RemoveOnFail. If nowMs <= 0, time.Now().UnixMilli() is used.
func (q *Queue) Nack(ctx context.Context, jobID string, jobErr error, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Attempts++
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	b := q.db.NewBatch()
	defer b.Close()
	q.clearLease(b, jobID)

	if job.Attempts < job.MaxAttempts {
		job.State = StatePending
		readyAt := nowMs + job.backoffDelayMs()
		if err := b.Set(readyKey(q.name, readyAt, job.ID), nil, nil); err != nil {
			return err
		}
		val, errEnc := encodeJob(job)
		if errEnc != nil {
			return errors.Wrap(errEnc, "jobqueue: encode job")
		}
		if err := b.Set(jobKey(q.name, job.ID), val, nil); err != nil {
			return err
		}
		if err := q.db.CommitBatch(ctx, b); err != nil {
			return err
		}
		q.logger.Debug("job rescheduled",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Int64("ready_ms", readyAt),
		)
		return nil
	}

	// Attempts exhausted: terminal failed state, never silently dropped.
	job.State = StateFailed
	if job.RemoveOnFail {
		if err := b.Delete(jobKey(q.name, job.ID), nil); err != nil {
			return err
		}
	} else {
		val, errEnc := encodeJob(job)
		if errEnc != nil {
			return errors.Wrap(errEnc, "jobqueue: encode job")
		}
		if err := b.Set(jobKey(q.name, job.ID), val, nil); err != nil {
			return err
		}
	}
	if err := q.db.CommitBatch(ctx, b); err != nil {
		return err
	}
	q.logger.Warn("job exhausted retries",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempts", job.Attempts),
		zap.String("last_error", job.LastError),
	)
	return nil
}

// clearLease stages removal of a job's lease record and expiry index entry.
func (q *Queue) clearLease(b *pebble.Batch, jobID string) {
	if val, err := q.db.Get(leaseKey(q.name, jobID)); err == nil {
		if l, errDec := decodeLease(val); errDec == nil {
			_ = b.Delete(leaseIdxKey(q.name, l.ExpiresMs, jobID), nil)
		}
	}
	_ = b.Delete(leaseKey(q.name, jobID), nil)
}

// GetJob loads a job record by id.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	val, err := q.db.Get(jobKey(q.name, jobID))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, errors.Wrapf(ErrJobNotFound, "id %s", jobID)
		}
		return nil, err
	}
	job, err := decodeJob(val)
	if err != nil {
		return nil, errors.Wrap(err, "jobqueue: decode job")
	}
	return job, nil
}

// Stats summarizes job counts per state.
type Stats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats scans job records and counts them by state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	lo, hi := keyRange(queuePrefix(q.name) + prefixJob)
	iter, err := q.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return Stats{}, err
	}
	defer iter.Close()

	var s Stats
	for ok := iter.First(); ok; ok = iter.Next() {
		job, errDec := decodeJob(iter.Value())
		if errDec != nil {
			continue
		}
		switch job.State {
		case StatePending:
			s.Pending++
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}
