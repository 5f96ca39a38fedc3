// Package cmd implements the command-line interface for the dMQ distributed
// message broker. It provides a hierarchical command structure with operations
// for running a broker node and administering a running cluster.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a broker node
//   - admin: Commands for cluster control operations (leadership transfer,
//     replica movement, liveness probes)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dmq -help for a list of all commands.
package cmd
