package cluster

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/storage"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var log = logger.GetLogger("cluster")

// RaftConfig carries the dragonboat tuning parameters shared by every raft
// group on the node.
type RaftConfig struct {
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	ElectionRTTFactor  uint64
	HeartbeatRTTFactor uint64
}

// groupConfig derives the per-group dragonboat config.
func (c RaftConfig) groupConfig(group model.GroupID, replicaID uint64) config.Config {
	return config.Config{
		ReplicaID:          replicaID,
		ShardID:            uint64(group),
		ElectionRTT:        c.ElectionRTTFactor,
		HeartbeatRTT:       c.HeartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
	}
}

// PeerTransfers forwards a leadership transfer to another node's control
// plane when that node, not this one, leads the group.
type PeerTransfers interface {
	TransferGroupLeadership(node model.NodeID, group model.GroupID, target *model.NodeID) *Error
}

// RaftGroupManager is the per-shard owner of raft consensus groups. All
// groups whose shard-table entry points at this shard are started and stopped
// through it. The dragonboat NodeHost is process-wide and thread safe; the
// manager's own group registry is shard-local state.
type RaftGroupManager struct {
	shardID   uint32
	nodeID    model.NodeID
	replicaID uint64
	nh        *dragonboat.NodeHost
	cfg       RaftConfig
	groups    map[model.GroupID]model.NTP
	peers     PeerTransfers
	leader    func(model.GroupID) (model.NodeID, bool)
}

// NewRaftGroupManager allocates the manager for one shard. nh may be nil on
// a node without cluster peers; group operations then fail with NotLeader.
// peers may be nil, in which case transfers for groups led elsewhere fail
// instead of being forwarded.
func NewRaftGroupManager(shardID uint32, nodeID model.NodeID, replicaID uint64, nh *dragonboat.NodeHost, peers PeerTransfers, cfg RaftConfig) (*RaftGroupManager, error) {
	if cfg.ElectionRTTFactor == 0 || cfg.HeartbeatRTTFactor == 0 {
		return nil, fmt.Errorf("raft group manager: election/heartbeat RTT factors must be positive")
	}
	m := &RaftGroupManager{
		shardID:   shardID,
		nodeID:    nodeID,
		replicaID: replicaID,
		nh:        nh,
		cfg:       cfg,
		groups:    make(map[model.GroupID]model.NTP),
		peers:     peers,
	}
	m.leader = m.raftLeader
	return m, nil
}

// raftLeader resolves the current leader of a group from dragonboat. Replica
// ids double as node ids in this deployment.
func (m *RaftGroupManager) raftLeader(group model.GroupID) (model.NodeID, bool) {
	if m.nh == nil {
		return 0, false
	}
	leaderID, _, valid, err := m.nh.GetLeaderID(uint64(group))
	if err != nil || !valid {
		return 0, false
	}
	return model.NodeID(leaderID), true
}

// Start is a lifecycle placeholder; groups are started individually as the
// placement layer assigns them.
func (m *RaftGroupManager) Start() error {
	return nil
}

// Stop forgets all shard-local group registrations. The NodeHost itself is
// closed by the node teardown, which also stops the replicas.
func (m *RaftGroupManager) Stop() error {
	m.groups = make(map[model.GroupID]model.NTP)
	return nil
}

// StartGroup starts the raft replica for a partition's consensus group on
// this shard and registers it locally.
func (m *RaftGroupManager) StartGroup(group model.GroupID, ntp model.NTP, members map[uint64]string, store *storage.Store) error {
	if _, ok := m.groups[group]; ok {
		return fmt.Errorf("raft group %s already started on shard %d", group, m.shardID)
	}

	if m.nh != nil {
		factory := newLogStateMachineFactory(store, ntp)
		if err := m.nh.StartConcurrentReplica(members, false, factory, m.cfg.groupConfig(group, m.replicaID)); err != nil {
			return fmt.Errorf("starting raft group %s: %w", group, err)
		}
	}

	m.groups[group] = ntp
	log.Infof("shard %d: started raft group %s for %s", m.shardID, group, ntp)
	return nil
}

// Contains reports whether the group is registered on this shard.
func (m *RaftGroupManager) Contains(group model.GroupID) bool {
	_, ok := m.groups[group]
	return ok
}

// NTPForGroup returns the topic-partition replicated by the group.
func (m *RaftGroupManager) NTPForGroup(group model.GroupID) (model.NTP, bool) {
	ntp, ok := m.groups[group]
	return ntp, ok
}

// TransferLeadership asks the group to hand leadership to the target node.
// A nil target lets raft pick a new leader.
func (m *RaftGroupManager) TransferLeadership(group model.GroupID, target *model.NodeID) *Error {
	if _, ok := m.groups[group]; !ok {
		return NewErrorf(ErrCNotFound, "raft group %s not found", group)
	}

	// A transfer must be issued by the group's leader. When a peer leads the
	// group, hand the request over its control-plane connection instead.
	if m.peers != nil {
		if leader, ok := m.leader(group); ok && leader != m.nodeID {
			log.Infof("shard %d: forwarding leadership transfer for %s to node %s", m.shardID, group, leader)
			return m.peers.TransferGroupLeadership(leader, group, target)
		}
	}

	if m.nh == nil {
		return NewError(ErrCNotLeader, "node has no raft transport")
	}

	// Without an explicit target the current leader steps down in favor of
	// whichever replica raft elects.
	targetReplica := uint64(0)
	if target != nil {
		targetReplica = uint64(*target)
	}
	if err := m.nh.RequestLeaderTransfer(uint64(group), targetReplica); err != nil {
		return NewErrorf(ErrCInternal, "leadership transfer failed: %v", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Partition Log State Machine
// --------------------------------------------------------------------------

// logStateMachine applies replicated log records of one partition to the
// shard's storage engine. The record format itself is opaque here.
type logStateMachine struct {
	ntp   model.NTP
	store *storage.Store
}

func newLogStateMachineFactory(store *storage.Store, ntp model.NTP) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &logStateMachine{ntp: ntp, store: store}
	}
}

func (fsm *logStateMachine) recordKey(index uint64) string {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return fsm.ntp.Key() + "/" + string(key)
}

func (fsm *logStateMachine) Lookup(itf interface{}) (interface{}, error) {
	index, ok := itf.(uint64)
	if !ok {
		return nil, NewErrorf(ErrCInternal, "invalid query type: %T", itf)
	}
	value, found := fsm.store.Get(fsm.recordKey(index))
	return assignmentLookup{Value: value, Ok: found}, nil
}

// assignmentLookup is the Lookup result for a single record read.
type assignmentLookup struct {
	Value []byte
	Ok    bool
}

func (fsm *logStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	for idx, e := range entries {
		fsm.store.Set(fsm.recordKey(e.Index), e.Cmd, e.Index)
		entries[idx].Result = sm.Result{Value: uint64(ErrCSuccess)}
	}
	return entries, nil
}

func (fsm *logStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

func (fsm *logStateMachine) SaveSnapshot(_ interface{}, w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	// Record data lives in the storage collaborator; the snapshot only needs
	// the applied watermark.
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], fsm.store.WriteIdx())
	_, err := w.Write(buf[:])
	return err
}

func (fsm *logStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	return nil
}

func (fsm *logStateMachine) Close() error {
	return nil
}
