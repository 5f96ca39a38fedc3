// Package node assembles a broker node out of the per-shard services. It is
// the only place that knows the full dependency order of the system.
//
// The package focuses on:
//   - Wiring: constructing every service in dependency order, each step
//     pushing its teardown action before the next step begins
//   - Fail-fast construction: the first failing step unwinds everything
//     already constructed, in reverse order, and wiring fails
//   - Start/Stop: starting the network listeners only after the full node is
//     wired, and tearing everything down in strict reverse order
//
// Construction order (teardown is the exact reverse):
//
//	scheduling domains -> admission groups -> shard runtime -> raft transport
//	-> storage -> connection cache -> shard table -> raft group managers
//	-> partition managers -> controller -> metadata dissemination
//	-> kafka services -> dispatcher -> rpc server -> admin server
//
// The controller's input gate is pushed last during Start, so the first
// teardown action on shutdown is to stop accepting metadata operations.
package node
