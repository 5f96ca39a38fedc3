package cluster

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/lni/dragonboat/v4"
	dbclient "github.com/lni/dragonboat/v4/client"
)

// ControllerGroup is the raft group replicating the controller metadata log.
// It is never listed in the shard table; the controller is not a partition.
const ControllerGroup model.GroupID = 0

const proposeRetries = 5

// ControllerConfig wires the controller to its raft group.
type ControllerConfig struct {
	NodeID    model.NodeID
	ReplicaID uint64
	// Members maps replica ids to raft addresses. Empty means single-node
	// mode: metadata is applied locally without replication.
	Members map[uint64]string
	Timeout time.Duration
	Raft    RaftConfig
}

// Controller is the cluster metadata authority of the node. It is a single
// instance (not sharded); its state is replicated through its own raft group,
// or held locally in single-node mode. All mutations flow through the
// replicated command log, so every node applies them in the same order.
type Controller struct {
	cfg ControllerConfig
	nh  *dragonboat.NodeHost
	cs  *dbclient.Session

	// single-node fallback state, guarded by mu: unlike the per-shard
	// services the controller is called from many goroutines.
	mu    sync.Mutex
	local *metadataState

	leaders     *LeadersTable
	inputClosed atomic.Bool
	started     atomic.Bool
}

// NewController allocates the controller. Construction does no I/O; the raft
// group is started by Start.
func NewController(cfg ControllerConfig, nh *dragonboat.NodeHost) (*Controller, error) {
	c := &Controller{
		cfg:     cfg,
		nh:      nh,
		leaders: NewLeadersTable(),
	}
	if nh == nil || len(cfg.Members) == 0 {
		c.local = newMetadataState()
		c.nh = nil
	}
	return c, nil
}

// Leaders returns the partition leaders table maintained by the metadata
// dissemination service.
func (c *Controller) Leaders() *LeadersTable {
	return c.leaders
}

// Members returns the configured cluster members (replica id to address).
func (c *Controller) Members() map[uint64]string {
	return c.cfg.Members
}

// Start launches the controller's raft group (if clustered) and opens input.
func (c *Controller) Start() error {
	if c.nh != nil {
		factory := NewMetadataStateMachineFactory()
		cfg := c.cfg.Raft.groupConfig(ControllerGroup, c.cfg.ReplicaID)
		if err := c.nh.StartConcurrentReplica(c.cfg.Members, false, factory, cfg); err != nil {
			return err
		}
		c.cs = c.nh.GetNoOPSession(uint64(ControllerGroup))
	}
	c.started.Store(true)
	log.Infof("controller started (clustered=%t)", c.nh != nil)
	return nil
}

// ShutdownInput stops accepting new metadata operations. It is the first
// teardown step after start, so long-running controller work terminates
// before the RPC listeners stop.
func (c *Controller) ShutdownInput() error {
	c.inputClosed.Store(true)
	return nil
}

// Stop tears the controller down. The raft replica itself is stopped when
// the NodeHost closes.
func (c *Controller) Stop() error {
	c.started.Store(false)
	return nil
}

// --------------------------------------------------------------------------
// Replicated Writes and Reads
// --------------------------------------------------------------------------

// propose replicates a command and returns its result code. Transient
// dragonboat busy errors are retried a bounded number of times.
func (c *Controller) propose(ctx context.Context, cmd *metadataCommand) *Error {
	if c.inputClosed.Load() {
		return NewError(ErrCShuttingDown, "controller no longer accepts input")
	}

	if c.nh == nil {
		c.mu.Lock()
		code, data := c.local.apply(cmd)
		c.mu.Unlock()
		if code != ErrCSuccess {
			return NewError(code, string(data))
		}
		return nil
	}

	for i := 0; i < proposeRetries; i++ {
		proposeCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		res, err := c.nh.SyncPropose(proposeCtx, c.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: system busy, retrying (%d/%d)...", i+1, proposeRetries)
			time.Sleep(c.cfg.Timeout / 10)
			continue
		}
		if err != nil {
			return NewError(ErrCInternal, err.Error())
		}
		if res.Value != uint64(ErrCSuccess) {
			return NewError(ErrCode(res.Value), string(res.Data))
		}
		return nil
	}
	return NewError(ErrCTimeout, "controller proposal timed out")
}

// proposeWithResult replicates a command and additionally returns the result
// payload (used by the id allocator).
func (c *Controller) proposeWithResult(ctx context.Context, cmd *metadataCommand) ([]byte, *Error) {
	if c.inputClosed.Load() {
		return nil, NewError(ErrCShuttingDown, "controller no longer accepts input")
	}

	if c.nh == nil {
		c.mu.Lock()
		code, data := c.local.apply(cmd)
		c.mu.Unlock()
		if code != ErrCSuccess {
			return nil, NewError(code, string(data))
		}
		return data, nil
	}

	for i := 0; i < proposeRetries; i++ {
		proposeCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		res, err := c.nh.SyncPropose(proposeCtx, c.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			time.Sleep(c.cfg.Timeout / 10)
			continue
		}
		if err != nil {
			return nil, NewError(ErrCInternal, err.Error())
		}
		if res.Value != uint64(ErrCSuccess) {
			return nil, NewError(ErrCode(res.Value), string(res.Data))
		}
		return res.Data, nil
	}
	return nil, NewError(ErrCTimeout, "controller proposal timed out")
}

// query performs a linearizable read of the controller state.
func (c *Controller) query(ctx context.Context, q metadataQuery) (interface{}, *Error) {
	if c.nh == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		res, err := c.local.lookup(q)
		if err != nil {
			var cerr *Error
			if errors.As(err, &cerr) {
				return nil, cerr
			}
			return nil, NewError(ErrCInternal, err.Error())
		}
		return res, nil
	}

	for i := 0; i < proposeRetries; i++ {
		readCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		res, err := c.nh.SyncRead(readCtx, uint64(ControllerGroup), q)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			time.Sleep(c.cfg.Timeout / 10)
			continue
		}
		if err != nil {
			return nil, NewError(ErrCInternal, err.Error())
		}
		return res, nil
	}
	return nil, NewError(ErrCTimeout, "controller read timed out")
}

// --------------------------------------------------------------------------
// Topics Frontend
// --------------------------------------------------------------------------

// RegisterPartition records a partition's replica placement. Used by the
// placement path when a partition is created.
func (c *Controller) RegisterPartition(ctx context.Context, ntp model.NTP, replicas []model.BrokerShard) *Error {
	return c.propose(ctx, &metadataCommand{
		Type:     cmdRegisterTopic,
		NTP:      ntp.Key(),
		Replicas: replicas,
	})
}

// MovePartitionReplicas changes the replica placement of a partition. An
// empty replica set is rejected before anything is proposed.
func (c *Controller) MovePartitionReplicas(ctx context.Context, ntp model.NTP, replicas []model.BrokerShard) *Error {
	if len(replicas) == 0 {
		return NewError(ErrCInvalidArgument, "partition movement requires target replica set")
	}
	return c.propose(ctx, &metadataCommand{
		Type:     cmdMoveReplicas,
		NTP:      ntp.Key(),
		Replicas: replicas,
	})
}

// Replicas returns the recorded replica set of a partition.
func (c *Controller) Replicas(ctx context.Context, ntp model.NTP) ([]model.BrokerShard, bool, *Error) {
	res, cerr := c.query(ctx, metadataQuery{Type: queryAssignment, NTP: ntp.Key()})
	if cerr != nil {
		return nil, false, cerr
	}
	assignment, ok := res.(assignmentResult)
	if !ok {
		return nil, false, NewErrorf(ErrCInternal, "unexpected query result type: %T", res)
	}
	return assignment.Replicas, assignment.Ok, nil
}

// Assignments returns all recorded partition assignments.
func (c *Controller) Assignments(ctx context.Context) (map[string][]model.BrokerShard, *Error) {
	res, cerr := c.query(ctx, metadataQuery{Type: queryAssignments})
	if cerr != nil {
		return nil, cerr
	}
	assignments, ok := res.(map[string][]model.BrokerShard)
	if !ok {
		return nil, NewErrorf(ErrCInternal, "unexpected query result type: %T", res)
	}
	return assignments, nil
}

// --------------------------------------------------------------------------
// Security Frontend
// --------------------------------------------------------------------------

// CreateUser stores a new credential. The credential bytes are opaque here;
// SCRAM mechanics live in the security collaborator.
func (c *Controller) CreateUser(ctx context.Context, user string, credential []byte) *Error {
	return c.propose(ctx, &metadataCommand{Type: cmdCreateUser, User: user, Credential: credential})
}

// UpdateUser replaces an existing credential.
func (c *Controller) UpdateUser(ctx context.Context, user string, credential []byte) *Error {
	return c.propose(ctx, &metadataCommand{Type: cmdUpdateUser, User: user, Credential: credential})
}

// DeleteUser removes a credential.
func (c *Controller) DeleteUser(ctx context.Context, user string) *Error {
	return c.propose(ctx, &metadataCommand{Type: cmdDeleteUser, User: user})
}

// ListUsers returns all credential user names.
func (c *Controller) ListUsers(ctx context.Context) ([]string, *Error) {
	res, cerr := c.query(ctx, metadataQuery{Type: queryUsers})
	if cerr != nil {
		return nil, cerr
	}
	users, ok := res.([]string)
	if !ok {
		return nil, NewErrorf(ErrCInternal, "unexpected query result type: %T", res)
	}
	return users, nil
}

// --------------------------------------------------------------------------
// ID Allocation
// --------------------------------------------------------------------------

// AllocateIDs reserves a block of ids and returns the first one.
func (c *Controller) AllocateIDs(ctx context.Context, count uint64) (uint64, *Error) {
	data, cerr := c.proposeWithResult(ctx, &metadataCommand{Type: cmdAllocateIDs, Count: count})
	if cerr != nil {
		return 0, cerr
	}
	first, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, NewErrorf(ErrCInternal, "unexpected id allocation result: %q", data)
	}
	return first, nil
}
