// Package worker runs job processors against the durable queues. A Runner
// pairs one queue with one Processor, settles every claimed job exactly once,
// and distinguishes first deliveries from retries in its logs. The built-in
// processors deliver email and SMS through pluggable sender interfaces.
package worker
