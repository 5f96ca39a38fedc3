// Package admin implements the broker's admin HTTP API. It exposes the
// control operations of the dispatch layer (leadership transfer, replica
// movement), SCRAM user management against the controller, a config dump and
// a Prometheus metrics endpoint.
//
// The package focuses on:
//   - Translating HTTP requests into dispatch and controller calls
//   - Mapping the shared result taxonomy onto HTTP status codes
//     (client-correctable failures become 400/404, server-side conditions
//     502/503/504/500)
//   - Optional TLS with runtime credential reloading
//
// Key Components:
//
//   - AdminServer: The HTTP server. Serve blocks until Close.
//
//   - IDispatcher / ISecurityFrontend: The collaborator seams, satisfied by
//     rpc/dispatch.Dispatcher and lib/cluster.Controller respectively.
//
// Route Overview:
//
//	POST   /v1/raft/{group}/transfer_leadership?target=N
//	POST   /v1/partitions/{namespace}/{topic}/{partition}/transfer_leadership?target=N
//	POST   /v1/partitions/{namespace}/{topic}/{partition}/move_replicas?target=1,0,2,1
//	POST   /v1/security/users
//	PUT    /v1/security/users/{user}
//	DELETE /v1/security/users/{user}
//	GET    /v1/security/users
//	GET    /v1/config
//	GET    /metrics
package admin
