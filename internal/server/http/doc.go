// Package httpserver exposes the JSON/SSE surface: job enqueue and inspection,
// user notification publish, and per-user event streams over Server-Sent
// Events.
package httpserver
