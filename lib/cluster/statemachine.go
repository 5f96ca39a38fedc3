package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ValentinKolb/dMQ/lib/model"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// Commands and Queries
// --------------------------------------------------------------------------

type cmdType uint8

const (
	cmdRegisterTopic cmdType = iota + 1 // record a partition's replica set
	cmdMoveReplicas                     // change a partition's replica set
	cmdCreateUser                       // store a new credential
	cmdUpdateUser                       // replace an existing credential
	cmdDeleteUser                       // remove a credential
	cmdAllocateIDs                      // reserve a block of ids
)

// metadataCommand is a single write against the controller's replicated
// metadata. Commands are JSON on the wire; the raft log is opaque bytes.
type metadataCommand struct {
	Type       cmdType             `json:"type"`
	NTP        string              `json:"ntp,omitempty"`
	Replicas   []model.BrokerShard `json:"replicas,omitempty"`
	User       string              `json:"user,omitempty"`
	Credential []byte              `json:"credential,omitempty"`
	Count      uint64              `json:"count,omitempty"`
}

func (c *metadataCommand) Serialize() []byte {
	data, err := json.Marshal(c)
	if err != nil {
		// Commands are plain structs; marshalling cannot fail under correct
		// usage, and a broken command must not reach the raft log.
		panic(fmt.Sprintf("serializing metadata command: %v", err))
	}
	return data
}

func (c *metadataCommand) Deserialize(data []byte) error {
	return json.Unmarshal(data, c)
}

type queryType uint8

const (
	queryAssignment queryType = iota + 1 // replica set of one partition
	queryAssignments                     // all partition assignments
	queryUsers                           // all credential user names
)

// metadataQuery is a read-only lookup against the controller state.
type metadataQuery struct {
	Type queryType
	NTP  string
}

// assignmentResult is the answer to a queryAssignment.
type assignmentResult struct {
	Replicas []model.BrokerShard
	Ok       bool
}

// --------------------------------------------------------------------------
// Metadata State
// --------------------------------------------------------------------------

// metadataState is the controller's cluster metadata: partition replica
// assignments, SCRAM credentials (opaque blobs here) and the id allocator
// watermark. It has a single writer (the raft apply loop, or the controller
// itself in single-node mode).
type metadataState struct {
	assignments map[string][]model.BrokerShard
	users       map[string][]byte
	nextID      uint64
}

func newMetadataState() *metadataState {
	return &metadataState{
		assignments: make(map[string][]model.BrokerShard),
		users:       make(map[string][]byte),
		nextID:      1,
	}
}

// apply executes one command and returns its result code plus a payload for
// commands that produce one (the first id of an allocated block).
func (s *metadataState) apply(cmd *metadataCommand) (ErrCode, []byte) {
	switch cmd.Type {
	case cmdRegisterTopic:
		if cmd.NTP == "" || len(cmd.Replicas) == 0 {
			return ErrCInvalidArgument, []byte("partition registration requires an ntp and replicas")
		}
		s.assignments[cmd.NTP] = cmd.Replicas
		return ErrCSuccess, nil

	case cmdMoveReplicas:
		if len(cmd.Replicas) == 0 {
			return ErrCInvalidArgument, []byte("partition movement requires target replica set")
		}
		if _, ok := s.assignments[cmd.NTP]; !ok {
			return ErrCNotFound, []byte(fmt.Sprintf("partition %s not found", cmd.NTP))
		}
		s.assignments[cmd.NTP] = cmd.Replicas
		return ErrCSuccess, nil

	case cmdCreateUser:
		if cmd.User == "" {
			return ErrCInvalidArgument, []byte("username missing")
		}
		if _, ok := s.users[cmd.User]; ok {
			return ErrCInvalidArgument, []byte(fmt.Sprintf("user %s already exists", cmd.User))
		}
		s.users[cmd.User] = cmd.Credential
		return ErrCSuccess, nil

	case cmdUpdateUser:
		if _, ok := s.users[cmd.User]; !ok {
			return ErrCNotFound, []byte(fmt.Sprintf("user %s not found", cmd.User))
		}
		s.users[cmd.User] = cmd.Credential
		return ErrCSuccess, nil

	case cmdDeleteUser:
		if _, ok := s.users[cmd.User]; !ok {
			return ErrCNotFound, []byte(fmt.Sprintf("user %s not found", cmd.User))
		}
		delete(s.users, cmd.User)
		return ErrCSuccess, nil

	case cmdAllocateIDs:
		if cmd.Count == 0 {
			return ErrCInvalidArgument, []byte("id allocation requires a positive count")
		}
		first := s.nextID
		s.nextID += cmd.Count
		return ErrCSuccess, []byte(strconv.FormatUint(first, 10))

	default:
		return ErrCInvalidArgument, []byte(fmt.Sprintf("unknown command type: %d", cmd.Type))
	}
}

// lookup answers a read-only query.
func (s *metadataState) lookup(q metadataQuery) (interface{}, error) {
	switch q.Type {
	case queryAssignment:
		replicas, ok := s.assignments[q.NTP]
		return assignmentResult{Replicas: replicas, Ok: ok}, nil
	case queryAssignments:
		out := make(map[string][]model.BrokerShard, len(s.assignments))
		for ntp, replicas := range s.assignments {
			out[ntp] = append([]model.BrokerShard(nil), replicas...)
		}
		return out, nil
	case queryUsers:
		users := make([]string, 0, len(s.users))
		for user := range s.users {
			users = append(users, user)
		}
		return users, nil
	default:
		return nil, NewErrorf(ErrCInvalidArgument, "unknown query type: %d", q.Type)
	}
}

// save writes a snapshot of the state.
func (s *metadataState) save(w io.Writer) error {
	snapshot := struct {
		Assignments map[string][]model.BrokerShard `json:"assignments"`
		Users       map[string][]byte              `json:"users"`
		NextID      uint64                         `json:"next_id"`
	}{s.assignments, s.users, s.nextID}
	return json.NewEncoder(w).Encode(&snapshot)
}

// load restores a snapshot written by save.
func (s *metadataState) load(r io.Reader) error {
	var snapshot struct {
		Assignments map[string][]model.BrokerShard `json:"assignments"`
		Users       map[string][]byte              `json:"users"`
		NextID      uint64                         `json:"next_id"`
	}
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return err
	}
	s.assignments = snapshot.Assignments
	s.users = snapshot.Users
	s.nextID = snapshot.NextID
	return nil
}

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// MetadataStateMachine replicates the controller metadata through raft.
type MetadataStateMachine struct {
	replicaID uint64
	shardID   uint64
	state     *metadataState
}

// NewMetadataStateMachineFactory returns the factory dragonboat uses to
// create the controller state machine for its raft group.
func NewMetadataStateMachineFactory() func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &MetadataStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			state:     newMetadataState(),
		}
	}
}

// Lookup handles read-only queries.
func (fsm *MetadataStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(metadataQuery)
	if !ok {
		return nil, NewErrorf(ErrCInternal, "invalid query type: %T", itf)
	}
	return fsm.state.lookup(q)
}

// Update applies write commands from the raft log.
func (fsm *MetadataStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(ErrCInvalidArgument), Data: []byte("empty command ignored")}
			continue
		}

		cmd := metadataCommand{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(ErrCInternal), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		code, data := fsm.state.apply(&cmd)
		entries[idx].Result = sm.Result{Value: uint64(code), Data: data}
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("metadata state machine batch of %d entries took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used, snapshots are taken fuzzily.
func (fsm *MetadataStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes the metadata snapshot to the writer.
func (fsm *MetadataStateMachine) SaveSnapshot(_ interface{}, w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.state.save(w)
}

// RecoverFromSnapshot restores the metadata from a snapshot.
func (fsm *MetadataStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.state.load(r)
}

// Close performs any necessary cleanup.
func (fsm *MetadataStateMachine) Close() error {
	return nil
}
