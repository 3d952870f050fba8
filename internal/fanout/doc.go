// Package fanout delivers real-time events to connected users.
//
// Each process keeps a Registry of at most one LiveConnection per user; a new
// connection for a user replaces the old one. A Relay bridges processes over
// the shared bus channel: publishing an event reaches every process, and each
// process delivers to whatever local connections it holds. Delivery is
// fire-and-forget; offline users and saturated consumers lose events.
package fanout
