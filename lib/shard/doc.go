// Package shard implements the per-core execution model of the broker node.
//
// A Runtime owns N shards. Each shard is a single goroutine draining a task
// mailbox; all state owned by a shard is only ever touched by tasks running on
// that goroutine, so shard-local mutation needs no locking. Shards share no
// mutable memory: the only way to affect state on another shard is to submit
// a task to its mailbox and, if a result is needed, await the reply.
//
// Sharded[T] holds one service instance per shard (the "shard-local replica"
// of a service). Instances are constructed on their owning shard and are only
// reachable from other shards through InvokeOn.
//
// Two rules keep the model deadlock free:
//
//   - Tasks running on a shard must never await another shard. Awaiting is
//     reserved for ordinary goroutines (RPC handlers, background services);
//     tasks may only fire-and-forget via Submit.
//   - Code running on a shard accesses its own replica through Local, never
//     through InvokeOn on itself.
package shard
