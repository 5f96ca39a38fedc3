// Package sched provides the named execution budgets of the node.
//
// A scheduling Domain bounds how many tasks tagged with its name may run
// concurrently (the Go rendition of a CPU share). An AdmissionGroup bounds
// how many cross-shard calls tagged with its name may be in flight at once;
// an exhausted budget blocks new calls (backpressure) instead of letting
// them proceed.
//
// Both sets are created once at node start-up, before any service that
// references them, and destroyed only after every referencing service has
// stopped. Services record their dependency with Retain/Release; destroying
// a set with live references is rejected.
package sched
