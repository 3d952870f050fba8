// Package rpc layers request/response semantics over the broadcast bus.
//
// A caller publishes to rpc/req/{capability} and a responder answers on
// rpc/resp/{capability}; a per-call correlation id matches the two. The
// bridge subscribes to the response topic before publishing the request, so
// an instant reply cannot be lost. Calls resolve exactly once: by matched
// response, by timeout, by context cancellation, or by bridge shutdown, and
// in every case the pending-call entry is removed.
package rpc
