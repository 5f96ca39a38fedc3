// Package client implements the RPC client for the broker's control plane.
// It provides an implementation of the IControlClient interface that
// communicates with remote broker nodes via RPC.
//
// The package focuses on:
//   - Transparent RPC access to control operations (leadership transfer,
//     replica movement, liveness probes)
//   - Integration with the transport and serialization layers
//   - Translating wire results into the shared result taxonomy
//
// Key Components:
//
//   - NewControlClient: Factory function that creates a client implementing
//     the IControlClient interface. The client forwards all operations to the
//     remote node via the configured transport layer, routed by service tag.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  Endpoints:              []string{"localhost:5000"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	}
//
//	// Create the client
//	c, _ := client.NewControlClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer c.Close()
//
//	// Transfer leadership of raft group 7, letting raft pick the successor
//	if cerr := c.TransferGroupLeadership(7, nil); cerr != nil {
//	  log.Fatalf("transfer failed: %v", cerr)
//	}
//
// Performance Considerations:
//
//   - For applications that frequently send large payloads, increasing ConnectionsPerEndpoint
//     can improve throughput by allowing parallel requests.
//
//   - For small messages, a single connection per endpoint is often more efficient due to
//     reduced connection overhead.
//
//   - The choice of serializer significantly affects performance. The binary serializer
//     provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	The client implementation is thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
