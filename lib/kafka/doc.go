// Package kafka holds the protocol-facing bookkeeping the broker keeps per
// Kafka client: consumer group coordinator routing, per-client throughput
// quotas and incremental fetch sessions.
//
// The package focuses on:
//   - Mapping consumer groups to their coordinator partition and, via the
//     shard table, to the shard hosting that partition
//   - Token-bucket throughput quotas per client id with throttle delays
//   - A bounded cache of incremental fetch sessions with LRU eviction
//
// Key Components:
//
//   - CoordinatorMapper: Hashes a consumer group name onto a partition of the
//     internal offsets topic. The mapping is stable for a fixed partition
//     count.
//
//   - GroupRouter: Combines the mapper with the shard table to answer which
//     shard handles a given consumer group.
//
//   - QuotaManager: Tracks per-client byte rates over a sliding window and
//     computes the throttle delay a client must observe.
//
//   - FetchSessionCache: Issues and recalls fetch session state, evicting the
//     least recently used session when the cache is full.
//
// None of these components speak the Kafka wire protocol; they are the
// shard-local state behind it.
package kafka
