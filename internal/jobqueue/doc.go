// Package jobqueue implements a durable, at-least-once work queue with
// lease-based delivery and exponential-backoff retry.
//
// Each named queue stores JSON job records plus two time-ordered indexes in
// the shared Pebble store:
//
//	jq/{queue}/job/{id}                    - Job record
//	jq/{queue}/ready/{ready_ms}/{id}       - Jobs eligible for dequeue
//	jq/{queue}/lease/{id}                  - Active lease (expiry)
//	jq/{queue}/lease_idx/{expires_ms}/{id} - Lease expiry index
//
// # Job Lifecycle
//
//  1. Enqueue: record written in pending state, ready index entry at now
//  2. Dequeue: earliest-ready job claimed under the queue mutex, leased,
//     transitioned to active
//  3. Ack: completed; purged when RemoveOnComplete, else retained
//  4. Nack: attempts incremented; rescheduled at baseDelay * 2^(attempts-1)
//     while attempts < max, else failed and retained with the last error
//  5. Lease expiry: the reclaimer returns unacknowledged jobs to pending
//
// Delivery is at-least-once: a worker crash between processing and Ack means
// the job is reclaimed and processed again. Processors should be idempotent.
//
// Within one job, attempts are strictly sequential (a job is either leased or
// ready, never both). Across jobs there is no ordering guarantee once backoff
// delays interleave.
package jobqueue
