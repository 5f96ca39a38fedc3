package cluster

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dMQ/lib/model"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// TestMetadataStateMoveReplicas tests replica movement against registered
// and unknown partitions
func TestMetadataStateMoveReplicas(t *testing.T) {
	state := newMetadataState()
	ntp := model.NewKafkaNTP("orders", 0)
	replicas := []model.BrokerShard{{Node: 1, Shard: 0}, {Node: 2, Shard: 1}}

	if code, _ := state.apply(&metadataCommand{Type: cmdRegisterTopic, NTP: ntp.Key(), Replicas: replicas}); code != ErrCSuccess {
		t.Fatalf("expected registration to succeed, got %v", code)
	}

	// Moving an unregistered partition is not found, not a silent creation.
	if code, _ := state.apply(&metadataCommand{Type: cmdMoveReplicas, NTP: "kafka/ghost/0", Replicas: replicas}); code != ErrCNotFound {
		t.Errorf("expected ErrCNotFound for unknown partition, got %v", code)
	}

	// An empty target replica set is invalid.
	if code, _ := state.apply(&metadataCommand{Type: cmdMoveReplicas, NTP: ntp.Key()}); code != ErrCInvalidArgument {
		t.Errorf("expected ErrCInvalidArgument for empty replica set, got %v", code)
	}

	moved := []model.BrokerShard{{Node: 3, Shard: 2}}
	if code, _ := state.apply(&metadataCommand{Type: cmdMoveReplicas, NTP: ntp.Key(), Replicas: moved}); code != ErrCSuccess {
		t.Fatalf("expected movement to succeed, got %v", code)
	}

	res, err := state.lookup(metadataQuery{Type: queryAssignment, NTP: ntp.Key()})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	assignment := res.(assignmentResult)
	if !assignment.Ok || len(assignment.Replicas) != 1 || assignment.Replicas[0].Node != 3 {
		t.Errorf("expected moved replica set, got %+v", assignment)
	}
}

// TestMetadataStateUsers tests the credential command semantics
func TestMetadataStateUsers(t *testing.T) {
	state := newMetadataState()

	if code, _ := state.apply(&metadataCommand{Type: cmdCreateUser, User: "alice", Credential: []byte("c1")}); code != ErrCSuccess {
		t.Fatalf("expected user creation to succeed, got %v", code)
	}
	if code, _ := state.apply(&metadataCommand{Type: cmdCreateUser, User: "alice", Credential: []byte("c2")}); code != ErrCInvalidArgument {
		t.Errorf("expected duplicate user to be rejected, got %v", code)
	}
	if code, _ := state.apply(&metadataCommand{Type: cmdUpdateUser, User: "bob", Credential: []byte("c3")}); code != ErrCNotFound {
		t.Errorf("expected update of unknown user to fail, got %v", code)
	}
	if code, _ := state.apply(&metadataCommand{Type: cmdDeleteUser, User: "alice"}); code != ErrCSuccess {
		t.Errorf("expected deletion to succeed, got %v", code)
	}
	if code, _ := state.apply(&metadataCommand{Type: cmdDeleteUser, User: "alice"}); code != ErrCNotFound {
		t.Errorf("expected second deletion to fail, got %v", code)
	}
}

// TestMetadataStateAllocateIDs tests that id blocks never overlap
func TestMetadataStateAllocateIDs(t *testing.T) {
	state := newMetadataState()

	code, data := state.apply(&metadataCommand{Type: cmdAllocateIDs, Count: 10})
	if code != ErrCSuccess {
		t.Fatalf("expected allocation to succeed, got %v", code)
	}
	if string(data) != "1" {
		t.Errorf("expected first block to start at 1, got %s", data)
	}

	code, data = state.apply(&metadataCommand{Type: cmdAllocateIDs, Count: 5})
	if code != ErrCSuccess {
		t.Fatalf("expected allocation to succeed, got %v", code)
	}
	if string(data) != "11" {
		t.Errorf("expected second block to start at 11, got %s", data)
	}

	if code, _ := state.apply(&metadataCommand{Type: cmdAllocateIDs}); code != ErrCInvalidArgument {
		t.Errorf("expected zero-count allocation to be rejected, got %v", code)
	}
}

// TestMetadataStateMachineUpdate tests batch application through the raft
// state machine interface
func TestMetadataStateMachineUpdate(t *testing.T) {
	fsm := NewMetadataStateMachineFactory()(1, 1)

	register := metadataCommand{
		Type:     cmdRegisterTopic,
		NTP:      "kafka/orders/0",
		Replicas: []model.BrokerShard{{Node: 1, Shard: 0}},
	}
	entries := []sm.Entry{
		{Index: 1, Cmd: register.Serialize()},
		{Index: 2, Cmd: nil},
		{Index: 3, Cmd: []byte("not json")},
	}

	result, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result[0].Result.Value != uint64(ErrCSuccess) {
		t.Errorf("expected first entry to succeed, got %d", result[0].Result.Value)
	}
	if result[1].Result.Value != uint64(ErrCInvalidArgument) {
		t.Errorf("expected empty command to be rejected, got %d", result[1].Result.Value)
	}
	if result[2].Result.Value != uint64(ErrCInternal) {
		t.Errorf("expected malformed command to fail, got %d", result[2].Result.Value)
	}
}

// TestMetadataStateSnapshot tests snapshot round trip through save/load
func TestMetadataStateSnapshot(t *testing.T) {
	state := newMetadataState()
	state.apply(&metadataCommand{Type: cmdRegisterTopic, NTP: "kafka/orders/0", Replicas: []model.BrokerShard{{Node: 1, Shard: 0}}})
	state.apply(&metadataCommand{Type: cmdCreateUser, User: "alice", Credential: []byte("c1")})
	state.apply(&metadataCommand{Type: cmdAllocateIDs, Count: 100})

	var buf bytes.Buffer
	if err := state.save(&buf); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	restored := newMetadataState()
	if err := restored.load(&buf); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if _, ok := restored.assignments["kafka/orders/0"]; !ok {
		t.Error("expected assignment to survive the snapshot")
	}
	if _, ok := restored.users["alice"]; !ok {
		t.Error("expected user to survive the snapshot")
	}
	if restored.nextID != 101 {
		t.Errorf("expected next id 101 after restore, got %d", restored.nextID)
	}
}
