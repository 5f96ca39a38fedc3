// Package lifecycle provides the deferred teardown stack used by the node
// start-up pipeline. Every service that finishes construction pushes its stop
// action onto the stack, and a single Unwind call at shutdown (or after a
// failed construction step) runs the actions in strict reverse order.
//
// The stack is only ever touched by the construction/shutdown sequence, never
// from request handling code, so it needs no internal locking.
package lifecycle
