// Package common provides core data structures and utilities shared across
// the broker's control-plane RPC system. It defines fundamental types,
// configuration structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for inter-component communication
//   - Configuration structures for client and server components
//   - Custom logging implementation integrated with Dragonboat
//   - Utilities for Dragonboat (RAFT) integration
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication between components,
//     with a flexible structure that adapts to different operation types.
//     Includes factory methods for creating various request and response messages.
//
//   - MessageType: Enumeration defining all supported control operations:
//     leadership transfers (addressed by raft group or by topic-partition),
//     replica movement, and liveness probes.
//
//   - ServiceTag: Selects the registered handler a request is dispatched to.
//     One listener multiplexes all services.
//
//   - ServerConfig: Comprehensive configuration for broker nodes, including
//     RAFT parameters, storage settings, network configuration, TLS credentials
//     and shard runtime sizing. Provides utilities for converting to
//     Dragonboat-specific configurations.
//
//   - ClientConfig: Configuration for client components, controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
