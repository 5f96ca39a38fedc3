package cluster

import (
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/storage"
)

// Partition is the shard-local handle of one hosted topic-partition. It is
// owned by exactly one shard and only touched from there.
type Partition struct {
	ntp      model.NTP
	group    model.GroupID
	replicas []model.BrokerShard
	raft     *RaftGroupManager
}

// NTP returns the partition's identifier.
func (p *Partition) NTP() model.NTP { return p.ntp }

// Group returns the partition's raft group.
func (p *Partition) Group() model.GroupID { return p.group }

// Replicas returns the partition's current replica placement.
func (p *Partition) Replicas() []model.BrokerShard { return p.replicas }

// hasReplicaOn reports whether a node is part of the replica set.
func (p *Partition) hasReplicaOn(node model.NodeID) bool {
	for _, r := range p.replicas {
		if r.Node == node {
			return true
		}
	}
	return false
}

// TransferLeadership hands partition leadership to the target node, or lets
// raft pick one if target is nil. A target outside the replica set is a
// client error; no transfer is attempted.
func (p *Partition) TransferLeadership(target *model.NodeID) *Error {
	if target != nil && !p.hasReplicaOn(*target) {
		return NewErrorf(ErrCInvalidArgument, "node %s is not a replica of %s", target, p.ntp)
	}
	return p.raft.TransferLeadership(p.group, target)
}

// PartitionManager is the per-shard registry of hosted partitions. Lookups
// and mutation happen only on the owning shard, so plain maps suffice.
type PartitionManager struct {
	shardID uint32
	store   *storage.Store
	raft    *RaftGroupManager
	ntps    map[string]*Partition
	groups  map[model.GroupID]*Partition
}

// NewPartitionManager allocates the manager for one shard.
func NewPartitionManager(shardID uint32, store *storage.Store, raft *RaftGroupManager) (*PartitionManager, error) {
	return &PartitionManager{
		shardID: shardID,
		store:   store,
		raft:    raft,
		ntps:    make(map[string]*Partition),
		groups:  make(map[model.GroupID]*Partition),
	}, nil
}

// Start is part of the service lifecycle; partitions are added as placement
// assigns them.
func (m *PartitionManager) Start() error {
	return nil
}

// Stop drops all shard-local partition handles.
func (m *PartitionManager) Stop() error {
	m.ntps = make(map[string]*Partition)
	m.groups = make(map[model.GroupID]*Partition)
	return nil
}

// CreatePartition starts hosting a partition on this shard: its raft group
// is started and the handle registered under both identifier forms.
func (m *PartitionManager) CreatePartition(ntp model.NTP, group model.GroupID, replicas []model.BrokerShard, members map[uint64]string) (*Partition, error) {
	if err := m.raft.StartGroup(group, ntp, members, m.store); err != nil {
		return nil, err
	}

	p := &Partition{
		ntp:      ntp,
		group:    group,
		replicas: replicas,
		raft:     m.raft,
	}
	m.ntps[ntp.Key()] = p
	m.groups[group] = p

	log.Infof("shard %d: hosting partition %s (group %s)", m.shardID, ntp, group)
	return p, nil
}

// RemovePartition stops hosting a partition on this shard.
func (m *PartitionManager) RemovePartition(ntp model.NTP) {
	if p, ok := m.ntps[ntp.Key()]; ok {
		delete(m.ntps, ntp.Key())
		delete(m.groups, p.group)
	}
}

// Get returns the handle for a topic-partition, or nil if it is not (or no
// longer) hosted on this shard. Callers treat nil as not-found: the resource
// may legitimately have moved since the shard table was consulted.
func (m *PartitionManager) Get(ntp model.NTP) *Partition {
	return m.ntps[ntp.Key()]
}

// ConsensusFor returns the handle for a raft group, or nil if it is not
// hosted on this shard.
func (m *PartitionManager) ConsensusFor(group model.GroupID) *Partition {
	return m.groups[group]
}
