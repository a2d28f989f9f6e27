// Package queue implements the safety-gated command queue in front of the
// dispatch layer.
//
// Items are ordered by descending priority with strict FIFO inside each
// priority band. Only Pending items are ever re-sorted; a Processing item
// keeps its position, so ordering is guaranteed only among Pending items at
// the moment of each dequeue. A single Run loop consumes items one at a
// time: safety gate first (a policy rejection is terminal, never retried),
// then the dispatcher. Transient dispatch failures are retried at this layer
// up to the item's budget, layered on top of the dispatch client's own retry
// budget, with a fixed inter-retry delay slept outside the queue lock. A fixed inter-item delay throttles overall command
// rate independent of the dispatch layer's rate limiter.
//
// Terminal items (Completed, Failed, Cancelled) are retained up to a cap and
// then pruned oldest-first, optionally into an Archiver. Lifecycle
// notifications (queue.started, queue.empty, queue.stopped, queue.changed,
// queue.item_processed) are published on the events hub.
package queue
