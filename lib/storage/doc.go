// Package storage provides the per-shard storage engine of the broker: a
// small key-value store for internal bookkeeping plus the on-disk directory
// layout for partition logs. One Store instance exists per shard and is only
// touched from its owning shard; the log format itself is an external
// collaborator and out of scope here.
//
// The on-disk layout, rooted at the configured data directory:
//
//	<data-dir>/
//	  - dmq/kvstore/<shard>/   internal key-value state
//	  - <namespace>/<topic>/<partition>/   partition logs
package storage
