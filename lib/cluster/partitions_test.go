package cluster

import (
	"testing"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/storage"
)

func newTestPartitionManager(t *testing.T) *PartitionManager {
	t.Helper()

	store, err := storage.NewStore(storage.Config{DataDir: t.TempDir()}, 0)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	if err := store.Start(); err != nil {
		t.Fatalf("starting store: %v", err)
	}
	t.Cleanup(func() { _ = store.Stop() })

	raft, err := NewRaftGroupManager(0, 1, 1, nil, nil, RaftConfig{ElectionRTTFactor: 10, HeartbeatRTTFactor: 1})
	if err != nil {
		t.Fatalf("creating raft group manager: %v", err)
	}

	mgr, err := NewPartitionManager(0, store, raft)
	if err != nil {
		t.Fatalf("creating partition manager: %v", err)
	}
	if err := mgr.Start(); err != nil {
		t.Fatalf("starting partition manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Stop() })
	return mgr
}

// TestPartitionManagerLookup tests registration under both identifier forms
// and the nil result for partitions not hosted here
func TestPartitionManagerLookup(t *testing.T) {
	mgr := newTestPartitionManager(t)
	ntp := model.NewKafkaNTP("orders", 0)
	replicas := []model.BrokerShard{{Node: 1, Shard: 0}}

	if p := mgr.Get(ntp); p != nil {
		t.Fatal("expected unhosted partition to be nil")
	}
	if p := mgr.ConsensusFor(7); p != nil {
		t.Fatal("expected unhosted group to be nil")
	}

	p, err := mgr.CreatePartition(ntp, 7, replicas, nil)
	if err != nil {
		t.Fatalf("creating partition: %v", err)
	}

	if got := mgr.Get(ntp); got != p {
		t.Error("expected ntp lookup to return the created partition")
	}
	if got := mgr.ConsensusFor(7); got != p {
		t.Error("expected group lookup to return the created partition")
	}
	if p.Group() != 7 || p.NTP() != ntp {
		t.Errorf("unexpected partition identity: group=%s ntp=%s", p.Group(), p.NTP())
	}

	// Starting the same group twice is a programming error.
	if _, err := mgr.CreatePartition(ntp, 7, replicas, nil); err == nil {
		t.Error("expected duplicate group start to fail")
	}
}

// TestPartitionManagerRemove tests that removal clears both identifier forms
func TestPartitionManagerRemove(t *testing.T) {
	mgr := newTestPartitionManager(t)
	ntp := model.NewKafkaNTP("orders", 0)

	if _, err := mgr.CreatePartition(ntp, 7, []model.BrokerShard{{Node: 1, Shard: 0}}, nil); err != nil {
		t.Fatalf("creating partition: %v", err)
	}
	mgr.RemovePartition(ntp)

	if mgr.Get(ntp) != nil || mgr.ConsensusFor(7) != nil {
		t.Error("expected both identifier forms to be cleared")
	}
}

// TestPartitionTransferLeadershipValidation tests that a transfer target
// outside the replica set is rejected before any raft call
func TestPartitionTransferLeadershipValidation(t *testing.T) {
	mgr := newTestPartitionManager(t)
	ntp := model.NewKafkaNTP("orders", 0)
	replicas := []model.BrokerShard{{Node: 1, Shard: 0}, {Node: 2, Shard: 1}}

	p, err := mgr.CreatePartition(ntp, 7, replicas, nil)
	if err != nil {
		t.Fatalf("creating partition: %v", err)
	}

	outside := model.NodeID(9)
	if cerr := p.TransferLeadership(&outside); cerr == nil || cerr.Code != ErrCInvalidArgument {
		t.Errorf("expected non-replica target to be a client error, got %v", cerr)
	}

	// A valid target still fails on this node: there is no raft transport.
	inside := model.NodeID(2)
	if cerr := p.TransferLeadership(&inside); cerr == nil || cerr.Code != ErrCNotLeader {
		t.Errorf("expected transfer without transport to report NotLeader, got %v", cerr)
	}
}

// TestRaftGroupManagerTransferUnknownGroup tests the not-found class for
// transfers against unregistered groups
func TestRaftGroupManagerTransferUnknownGroup(t *testing.T) {
	raft, err := NewRaftGroupManager(0, 1, 1, nil, nil, RaftConfig{ElectionRTTFactor: 10, HeartbeatRTTFactor: 1})
	if err != nil {
		t.Fatalf("creating raft group manager: %v", err)
	}

	if cerr := raft.TransferLeadership(42, nil); cerr == nil || cerr.Code != ErrCNotFound {
		t.Errorf("expected unknown group to be not found, got %v", cerr)
	}
}

// fakePeerTransfers records leadership transfers forwarded to a peer.
type fakePeerTransfers struct {
	node   model.NodeID
	group  model.GroupID
	target *model.NodeID
	calls  int
}

func (f *fakePeerTransfers) TransferGroupLeadership(node model.NodeID, group model.GroupID, target *model.NodeID) *Error {
	f.node = node
	f.group = group
	f.target = target
	f.calls++
	return nil
}

// TestRaftGroupManagerTransferForwardsToLeader tests that a transfer for a
// group led by a peer is handed to that peer's control plane
func TestRaftGroupManagerTransferForwardsToLeader(t *testing.T) {
	peers := &fakePeerTransfers{}
	raft, err := NewRaftGroupManager(0, 1, 1, nil, peers, RaftConfig{ElectionRTTFactor: 10, HeartbeatRTTFactor: 1})
	if err != nil {
		t.Fatalf("creating raft group manager: %v", err)
	}

	ntp := model.NewKafkaNTP("orders", 0)
	if err := raft.StartGroup(7, ntp, nil, nil); err != nil {
		t.Fatalf("starting group: %v", err)
	}

	raft.leader = func(group model.GroupID) (model.NodeID, bool) { return 2, true }

	target := model.NodeID(3)
	if cerr := raft.TransferLeadership(7, &target); cerr != nil {
		t.Fatalf("expected forwarded transfer to succeed, got %v", cerr)
	}
	if peers.calls != 1 || peers.node != 2 || peers.group != 7 {
		t.Errorf("expected transfer forwarded to node 2 for group 7, got node %d group %d (%d calls)",
			peers.node, peers.group, peers.calls)
	}
	if peers.target == nil || *peers.target != target {
		t.Errorf("expected forwarded target %d, got %v", target, peers.target)
	}

	// When this node leads the group, nothing is forwarded; without a raft
	// transport the transfer fails locally.
	raft.leader = func(group model.GroupID) (model.NodeID, bool) { return 1, true }
	if cerr := raft.TransferLeadership(7, &target); cerr == nil || cerr.Code != ErrCNotLeader {
		t.Errorf("expected local transfer without transport to report NotLeader, got %v", cerr)
	}
	if peers.calls != 1 {
		t.Errorf("expected no additional forwarding, got %d calls", peers.calls)
	}
}
