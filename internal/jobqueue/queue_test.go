package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	pebblestore "github.com/averlane/courier/internal/storage/pebble"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return Open(db, "email", Options{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}, nil)
}

func dequeueOne(t *testing.T, q *Queue, nowMs int64) *Job {
	t.Helper()
	jobs, err := q.Dequeue(context.Background(), 1, 30_000, nowMs)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("want 1 job, got %d", len(jobs))
	}
	return jobs[0]
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jid, err := q.Enqueue(ctx, "welcome", []byte(`{"to":"a@b.c"}`), Options{}, 1000)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job := dequeueOne(t, q, 1100)
	if job.ID != jid || job.State != StateActive {
		t.Fatalf("claimed job %+v", job)
	}
	if job.Retry() {
		t.Fatalf("first delivery should not be a retry")
	}

	if err := q.Ack(ctx, jid); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, err := q.GetJob(ctx, jid)
	if err != nil {
		t.Fatalf("get after ack: %v", err)
	}
	if got.State != StateCompleted {
		t.Fatalf("want completed, got %s", got.State)
	}
}

func TestRemoveOnCompletePurges(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jid, _ := q.Enqueue(ctx, "welcome", nil, Options{RemoveOnComplete: true}, 1000)
	_ = dequeueOne(t, q, 1100)
	if err := q.Ack(ctx, jid); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := q.GetJob(ctx, jid); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected purge, got %v", err)
	}
}

func TestDequeueOrderAndMutualExclusion(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, "a", nil, Options{}, 1000)
	second, _ := q.Enqueue(ctx, "b", nil, Options{}, 2000)

	job := dequeueOne(t, q, 3000)
	if job.ID != first {
		t.Fatalf("expected earliest-ready job first")
	}
	// A second dequeue must not hand out the same job again.
	job = dequeueOne(t, q, 3000)
	if job.ID != second {
		t.Fatalf("expected second job, got %s", job.ID)
	}
	jobs, err := q.Dequeue(ctx, 1, 30_000, 3000)
	if err != nil {
		t.Fatalf("dequeue empty: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("no jobs should remain claimable")
	}
}

func TestNackBackoffIsExponential(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jid, _ := q.Enqueue(ctx, "flaky", nil, Options{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond}, 1000)

	// Attempt 1 fails at t=1000: retry ready at 1000+100.
	_ = dequeueOne(t, q, 1000)
	if err := q.Nack(ctx, jid, errors.New("boom"), 1000); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if jobs, _ := q.Dequeue(ctx, 1, 30_000, 1099); len(jobs) != 0 {
		t.Fatalf("retry visible before base delay elapsed")
	}
	job := dequeueOne(t, q, 1100)
	if !job.Retry() || job.Attempts != 1 {
		t.Fatalf("attempt bookkeeping: %+v", job)
	}

	// Attempt 2 fails at t=2000: delay doubles to 200.
	if err := q.Nack(ctx, jid, errors.New("boom"), 2000); err != nil {
		t.Fatalf("nack2: %v", err)
	}
	if jobs, _ := q.Dequeue(ctx, 1, 30_000, 2199); len(jobs) != 0 {
		t.Fatalf("retry visible before doubled delay elapsed")
	}
	_ = dequeueOne(t, q, 2200)

	// Attempt 3 fails at t=3000: delay doubles again to 400.
	if err := q.Nack(ctx, jid, errors.New("boom"), 3000); err != nil {
		t.Fatalf("nack3: %v", err)
	}
	if jobs, _ := q.Dequeue(ctx, 1, 30_000, 3399); len(jobs) != 0 {
		t.Fatalf("retry visible before quadrupled delay elapsed")
	}
	_ = dequeueOne(t, q, 3400)
}

func TestExhaustedJobIsRetained(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jid, _ := q.Enqueue(ctx, "doomed", nil, Options{MaxAttempts: 2, BaseDelay: 50 * time.Millisecond}, 1000)

	_ = dequeueOne(t, q, 1000)
	if err := q.Nack(ctx, jid, errors.New("fail 1"), 1000); err != nil {
		t.Fatalf("nack: %v", err)
	}
	_ = dequeueOne(t, q, 1100)
	if err := q.Nack(ctx, jid, errors.New("fail 2"), 1100); err != nil {
		t.Fatalf("nack: %v", err)
	}

	job, err := q.GetJob(ctx, jid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != StateFailed || job.Attempts != 2 || job.LastError != "fail 2" {
		t.Fatalf("terminal state: %+v", job)
	}
	// No further attempt is scheduled.
	if jobs, _ := q.Dequeue(ctx, 1, 30_000, 1_000_000); len(jobs) != 0 {
		t.Fatalf("failed job must not be re-dequeued")
	}
}

func TestRemoveOnFailPurges(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jid, _ := q.Enqueue(ctx, "doomed", nil, Options{MaxAttempts: 1, RemoveOnFail: true}, 1000)
	_ = dequeueOne(t, q, 1000)
	if err := q.Nack(ctx, jid, errors.New("fail"), 1000); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if _, err := q.GetJob(ctx, jid); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected purge, got %v", err)
	}
}

func TestReclaimExpiredLease(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jid, _ := q.Enqueue(ctx, "stuck", nil, Options{}, 1000)
	jobs, err := q.Dequeue(ctx, 1, 500, 1000) // lease expires at 1500
	if err != nil || len(jobs) != 1 {
		t.Fatalf("dequeue: %v", err)
	}

	// Before expiry nothing is reclaimed.
	n, err := q.ReclaimExpired(ctx, 1400, 10)
	if err != nil || n != 0 {
		t.Fatalf("early reclaim: n=%d err=%v", n, err)
	}

	n, err = q.ReclaimExpired(ctx, 1600, 10)
	if err != nil || n != 1 {
		t.Fatalf("reclaim: n=%d err=%v", n, err)
	}
	job := dequeueOne(t, q, 1700)
	if job.ID != jid {
		t.Fatalf("expected reclaimed job")
	}
	// Reclaim is not an attempt.
	if job.Attempts != 0 {
		t.Fatalf("reclaim must not count attempts: %d", job.Attempts)
	}
}

func TestDequeuePurgesOrphanedReadyEntries(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	jid, _ := q.Enqueue(ctx, "ghost", nil, Options{}, 1000)
	// Drop the record out of band, leaving the ready index entry behind.
	if err := q.db.Delete(jobKey(q.name, jid)); err != nil {
		t.Fatalf("delete record: %v", err)
	}

	jobs, err := q.Dequeue(ctx, 1, 30_000, 2000)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("orphaned entry must not yield a job")
	}
	// The scan must remove the orphan rather than revisit it every pass.
	if _, err := q.db.Get(readyKey(q.name, 1000, jid)); !pebblestore.IsNotFound(err) {
		t.Fatalf("orphaned ready entry still present: %v", err)
	}
}

func TestReclaimPurgesStaleLeaseIndexEntries(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	// Expiry-index entry with no lease or job behind it.
	staleKey := leaseIdxKey(q.name, 1500, "ghost")
	if err := q.db.Set(staleKey, nil); err != nil {
		t.Fatalf("seed stale entry: %v", err)
	}

	n, err := q.ReclaimExpired(ctx, 2000, 10)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 0 {
		t.Fatalf("stale entry must not count as reclaimed, got %d", n)
	}
	if _, err := q.db.Get(staleKey); !pebblestore.IsNotFound(err) {
		t.Fatalf("stale lease index entry still present: %v", err)
	}
}

func TestWaitForJobWakesOnEnqueue(t *testing.T) {
	q := openTestQueue(t)
	done := make(chan bool, 1)
	go func() { done <- q.WaitForJob(2 * time.Second) }()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Enqueue(context.Background(), "wake", nil, Options{}, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case woke := <-done:
		if !woke {
			t.Fatalf("expected wake by notification, not timeout")
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForJob did not return")
	}
}

func TestEnqueueRejectsInvalidOptions(t *testing.T) {
	q := openTestQueue(t)
	if _, err := q.Enqueue(context.Background(), "bad", nil, Options{MaxAttempts: -1}, 0); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := q.Enqueue(context.Background(), "bad", nil, Options{BaseDelay: -time.Second}, 0); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestStats(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, "a", nil, Options{}, 1000)
	jid2, _ := q.Enqueue(ctx, "b", nil, Options{MaxAttempts: 1}, 1000)
	_, _ = q.Enqueue(ctx, "c", nil, Options{}, 1000)

	_ = dequeueOne(t, q, 1100) // a -> active
	_ = dequeueOne(t, q, 1100) // b -> active
	if err := q.Nack(ctx, jid2, errors.New("x"), 1100); err != nil {
		t.Fatalf("nack: %v", err)
	}

	s, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Pending != 1 || s.Active != 1 || s.Failed != 1 || s.Completed != 0 {
		t.Fatalf("stats: %+v", s)
	}
}
