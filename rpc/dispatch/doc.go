// Package dispatch routes control-plane operations to the shard owning the
// addressed resource. It is the seam between the network-facing layers
// (control RPC and admin API) and the per-shard services.
//
// Every operation follows the same shape: validate the request, consult the
// shard table for the owning shard, execute on that shard, and translate the
// outcome into the shared result taxonomy. The ownership lookup is advisory;
// the owning shard performs a second local lookup, and absence there is an
// ordinary not-found result, not an inconsistency.
//
// Dispatch is bounded by an admission group, so a flood of control requests
// queues at the entry instead of piling up in shard mailboxes.
package dispatch
