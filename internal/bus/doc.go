// Package bus provides the broadcast publish/subscribe transport underlying
// RPC and live-event relay. Two implementations exist: an in-process bus for
// single-node deployments and tests, and a Redis-backed bus for multi-process
// fan-out. Both deliver published messages back to subscribers in the
// publishing process, so relay logic never needs a local special case.
package bus
