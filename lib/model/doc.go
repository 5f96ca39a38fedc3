// Package model defines the identifiers shared by every layer of the broker:
// raft group ids, node ids, topic-partitions (NTP) and broker-shard pairs.
// Identifiers are immutable once assigned and are the keys of the shard table.
package model
