// Package cluster contains the per-shard cluster services of the broker
// node: the shard table (resource to owning-shard directory), the raft group
// manager and partition manager, the controller (the cluster metadata
// authority and its replicated state machine), the metadata cache and
// dissemination service, the raft connection cache and the id allocator.
//
// Every service here exists once per shard (a Sharded container in the node
// pipeline) except the controller, which is a single instance whose state is
// replicated through its own raft group.
//
// Cross-shard failures are reported through the closed ErrCode taxonomy, not
// through Go errors: shard boundaries exchange codes, and only the outermost
// layers translate them into transport status vocabularies.
package cluster
