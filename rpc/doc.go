// Package rpc provides a comprehensive framework for remote procedure calls
// in the broker's control plane. It acts as the communication layer between
// nodes and administrative clients, enabling operations across network
// boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, TLS credential
//     reloading and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: RPC client implementation for the control-plane services,
//     allowing nodes and tools to invoke cross-shard operations remotely.
//
//   - server: RPC server components that multiplex registered service handlers
//     behind a single listener.
//
//   - dispatch: Shard-aware routing of control operations to the shard owning
//     the addressed resource.
//
//   - admin: The administrative HTTP API exposing the control operations.
package rpc
