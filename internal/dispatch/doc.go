// Package dispatch implements the rate-limited outbound pipeline to the
// device-control API.
//
// Every public send wraps the call as an internal request and places it on a
// priority queue (higher priority first, FIFO within a band). A single pump
// goroutine drains the queue behind three gates, all of which must pass
// before a call is issued:
//
//   - fewer than MaxConcurrent calls in flight
//   - the rolling rate-limit window has capacity (otherwise the pump sleeps
//     until the oldest stamp expires)
//   - the target resource's cooldown has elapsed (otherwise the pump sleeps
//     the remainder before issuing that call)
//
// Issued calls run in their own goroutines, so completions may arrive out of
// order when MaxConcurrent > 1. Each call carries its own retry budget with
// jittered exponential backoff; only transient failures (network, 5xx, 429)
// are retried, other 4xx responses fail immediately, and every retry waits
// on the rate window and cooldown again before touching the wire. All
// failures are normalized into APIError so callers can layer their own
// retry policy without protocol knowledge.
//
// Cooldown and rate-window stamps are taken when a call is issued, not when
// it completes: the limits protect the wire, not logical success.
package dispatch
