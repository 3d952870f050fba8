package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// State is the lifecycle state of a job. Transitions are monotonic:
// pending -> active -> {completed | pending(retry) | failed}.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of deferred, retryable work. Attempts counts finished
// (failed) attempts; the attempt currently executing is Attempts+1.
type Job struct {
	ID               string          `json:"id"`
	Queue            string          `json:"queue"`
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"max_attempts"`
	BaseDelayMs      int64           `json:"base_delay_ms"`
	RemoveOnComplete bool            `json:"remove_on_complete"`
	RemoveOnFail     bool            `json:"remove_on_fail"`
	State            State           `json:"state"`
	CreatedMs        int64           `json:"created_ms"`
	LastAttemptMs    int64           `json:"last_attempt_ms"`
	LastError        string          `json:"last_error,omitempty"`
}

// Retry reports whether the job has already failed at least once, i.e. the
// next attempt is a retry rather than the first delivery.
func (j *Job) Retry() bool { return j.Attempts > 0 }

// backoffDelayMs returns the delay before the next attempt after `attempts`
// failed attempts: baseDelay * 2^(attempts-1).
func (j *Job) backoffDelayMs() int64 {
	if j.Attempts < 1 {
		return j.BaseDelayMs
	}
	return j.BaseDelayMs << (j.Attempts - 1)
}

// Options configures retry and retention behavior for an enqueued job.
// Unset fields take queue defaults; validation happens at enqueue time, not
// when the job is processed.
type Options struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	RemoveOnComplete bool
	RemoveOnFail     bool
}

func (o Options) withDefaults(d Options) (Options, error) {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxAttempts < 1 {
		return Options{}, errors.Newf("jobqueue: max attempts must be >= 1, got %d", o.MaxAttempts)
	}
	if o.BaseDelay < 0 {
		return Options{}, errors.Newf("jobqueue: base delay must not be negative, got %s", o.BaseDelay)
	}
	return o, nil
}

// lease records exclusive, time-bounded ownership of an active job.
type lease struct {
	JobID     string `json:"job_id"`
	ExpiresMs int64  `json:"expires_ms"`
}

func encodeJob(j *Job) ([]byte, error) { return json.Marshal(j) }

func decodeJob(b []byte) (*Job, error) {
	var j Job
	err := json.Unmarshal(b, &j)
	return &j, err
}

func encodeLease(l *lease) []byte { b, _ := json.Marshal(l); return b }

func decodeLease(b []byte) (*lease, error) {
	var l lease
	err := json.Unmarshal(b, &l)
	return &l, err
}
