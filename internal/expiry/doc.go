// Package expiry maintains entities with a bounded lifetime. Active records
// carry an expiry-ordered index entry; a periodic sweep transitions past-due
// records to expired in bulk. The transition is one-way and the sweep is
// idempotent, so overlapping or repeated runs are harmless.
package expiry
