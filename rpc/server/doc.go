// Package server implements the control-plane RPC server of the broker.
// It provides adapters for handling requests addressed to the raft, cluster
// and kafka services, along with the core server implementation that routes
// requests by service tag.
//
// The package focuses on:
//   - Server-side handling of control operations (leadership transfer,
//     replica movement, liveness probes)
//   - Adapter pattern to decouple the dispatch layer from RPC mechanisms
//   - One listener multiplexing all registered services
//   - Per-service scheduling domains and admission budgets, so one busy
//     service cannot starve the others
//   - Translating dispatch results into the shared wire taxonomy
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server
//     adapters, with the Handle method that processes a decoded request.
//
//   - NewRaftServerAdapter: Factory function creating the adapter for
//     operations addressed by raft group id.
//
//   - NewKafkaServerAdapter: Factory function creating the adapter for
//     operations addressed by topic-partition.
//
//   - NewClusterServerAdapter: Factory function creating the adapter for
//     cluster metadata operations and liveness probes.
//
//   - NewRPCServer: Factory function creating a configured server with the
//     specified transport and serializer mechanisms.
//
// Usage Example:
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	_ = s.Register(common.ServiceRaft, "raft", raftDomain, raftAdmission, server.NewRaftServerAdapter(d, timeout))
//	_ = s.Register(common.ServiceKafka, "kafka", kafkaDomain, kafkaAdmission, server.NewKafkaServerAdapter(d, timeout))
//	_ = s.Register(common.ServiceCluster, "cluster", clusterDomain, clusterAdmission, server.NewClusterServerAdapter(d, timeout))
//
//	// Start the server (blocks until Close)
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. Each request is processed
//	independently. Register must complete before Serve is called.
package server
