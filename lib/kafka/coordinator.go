package kafka

import (
	"fmt"
	"hash/fnv"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("kafka")

// CoordinatorTopic is the internal topic whose partitions act as consumer
// group coordinators.
const CoordinatorTopic = "__consumer_offsets"

// --------------------------------------------------------------------------
// Coordinator Mapper
// --------------------------------------------------------------------------

// CoordinatorMapper maps consumer group names onto partitions of the internal
// offsets topic. The mapping is a pure function of the group name and the
// partition count, so every node computes the same coordinator.
type CoordinatorMapper struct {
	partitions int32
}

// NewCoordinatorMapper creates a mapper over the given partition count.
func NewCoordinatorMapper(partitions int32) (*CoordinatorMapper, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("coordinator mapper requires a positive partition count, got %d", partitions)
	}
	return &CoordinatorMapper{partitions: partitions}, nil
}

// NTP returns the coordinator partition for the consumer group.
func (m *CoordinatorMapper) NTP(group string) model.NTP {
	h := fnv.New32a()
	_, _ = h.Write([]byte(group))
	return model.NewKafkaNTP(CoordinatorTopic, int32(h.Sum32()%uint32(m.partitions)))
}

// Partitions returns the partition count of the offsets topic.
func (m *CoordinatorMapper) Partitions() int32 {
	return m.partitions
}

// --------------------------------------------------------------------------
// Group Router
// --------------------------------------------------------------------------

// ShardLookup answers which shard hosts a topic-partition (the shard table).
type ShardLookup interface {
	ShardForNTP(ntp model.NTP) (uint32, bool)
}

// GroupRouter resolves consumer groups to the shard hosting their coordinator
// partition. A miss means the coordinator is not hosted on this node.
type GroupRouter struct {
	mapper *CoordinatorMapper
	table  ShardLookup
}

// NewGroupRouter creates a router over the mapper and the shard table.
func NewGroupRouter(mapper *CoordinatorMapper, table ShardLookup) (*GroupRouter, error) {
	if mapper == nil || table == nil {
		return nil, fmt.Errorf("group router requires a mapper and a shard table")
	}
	return &GroupRouter{mapper: mapper, table: table}, nil
}

// CoordinatorShard returns the coordinator partition of the group and the
// shard hosting it. ok is false when the partition is not on this node.
func (r *GroupRouter) CoordinatorShard(group string) (model.NTP, uint32, bool) {
	ntp := r.mapper.NTP(group)
	shard, ok := r.table.ShardForNTP(ntp)
	return ntp, shard, ok
}
