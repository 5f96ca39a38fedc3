package model

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Core Identifier Types
// --------------------------------------------------------------------------

// GroupID identifies a raft consensus group hosted on exactly one shard.
type GroupID uint64

func (g GroupID) String() string {
	return strconv.FormatUint(uint64(g), 10)
}

// NodeID identifies a broker node in the cluster.
type NodeID uint64

func (n NodeID) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// KafkaNamespace is the namespace of all client visible topics. Internal
// topics (e.g. the controller log) live in their own namespaces.
const (
	KafkaNamespace      = "kafka"
	ControllerNamespace = "dmq"
)

// NTP is a namespaced topic-partition, the identifier of a single replicated
// log hosted on exactly one shard.
type NTP struct {
	Namespace string
	Topic     string
	Partition int32
}

// NewKafkaNTP creates an NTP in the client visible namespace.
func NewKafkaNTP(topic string, partition int32) NTP {
	return NTP{Namespace: KafkaNamespace, Topic: topic, Partition: partition}
}

func (n NTP) String() string {
	return fmt.Sprintf("%s/%s/%d", n.Namespace, n.Topic, n.Partition)
}

// Key returns the canonical map key for the NTP.
func (n NTP) Key() string {
	return n.String()
}

// BrokerShard names a replica placement target: a node and the shard on that
// node which will host the replica.
type BrokerShard struct {
	Node  NodeID
	Shard uint32
}

func (b BrokerShard) String() string {
	return fmt.Sprintf("%d:%d", b.Node, b.Shard)
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// ParseGroupID parses a raft group id from its decimal representation.
func ParseGroupID(s string) (GroupID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("raft group id must be an unsigned integer: %s", s)
	}
	return GroupID(v), nil
}

// ParseNodeID parses a node id from its decimal representation.
func ParseNodeID(s string) (NodeID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("node id must be an unsigned integer: %s", s)
	}
	return NodeID(v), nil
}

// ParsePartitionID parses a partition index from its decimal representation.
func ParsePartitionID(s string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("partition id must be a non-negative integer: %s", s)
	}
	return int32(v), nil
}

// ParseNTP parses an NTP from its canonical "namespace/topic/partition" form.
func ParseNTP(s string) (NTP, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return NTP{}, fmt.Errorf("invalid topic-partition: %s", s)
	}
	partition, err := ParsePartitionID(parts[2])
	if err != nil {
		return NTP{}, err
	}
	return NTP{Namespace: parts[0], Topic: parts[1], Partition: partition}, nil
}

// ParseBrokerShards parses replica placement targets from a flat list of
// integer pairs "node,shard,node,shard,...". The string "1,0,2,1" names two
// targets: node 1 shard 0 and node 2 shard 1. An odd number of integers is
// malformed.
func ParseBrokerShards(param string) ([]BrokerShard, error) {
	parts := strings.Split(param, ",")

	if len(parts)%2 != 0 {
		return nil, fmt.Errorf("invalid target parameter format: %s", param)
	}

	replicas := make([]BrokerShard, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		node, err := strconv.ParseUint(strings.TrimSpace(parts[i]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid target node %s: %v", parts[i], err)
		}
		shard, err := strconv.ParseUint(strings.TrimSpace(parts[i+1]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid target shard %s: %v", parts[i+1], err)
		}
		replicas = append(replicas, BrokerShard{
			Node:  NodeID(node),
			Shard: uint32(shard),
		})
	}

	return replicas, nil
}

// BrokerShardsFromPairs converts a flat node,shard integer list (the wire
// form) into placement targets. An odd number of integers is malformed.
func BrokerShardsFromPairs(pairs []uint64) ([]BrokerShard, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("replica list must hold node,shard pairs, got %d integers", len(pairs))
	}
	replicas := make([]BrokerShard, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		replicas = append(replicas, BrokerShard{
			Node:  NodeID(pairs[i]),
			Shard: uint32(pairs[i+1]),
		})
	}
	return replicas, nil
}

// BrokerShardsToPairs converts placement targets into the flat wire form.
func BrokerShardsToPairs(replicas []BrokerShard) []uint64 {
	pairs := make([]uint64, 0, len(replicas)*2)
	for _, r := range replicas {
		pairs = append(pairs, uint64(r.Node), uint64(r.Shard))
	}
	return pairs
}
