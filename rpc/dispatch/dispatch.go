package dispatch

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/sched"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("rpc")

// --------------------------------------------------------------------------
// Collaborator Interfaces
// --------------------------------------------------------------------------

// ShardLookup answers which shard owns a resource. Lookups are advisory: the
// answer may be stale by the time the owning shard executes.
type ShardLookup interface {
	ShardForGroup(group model.GroupID) (uint32, bool)
	ShardForNTP(ntp model.NTP) (uint32, bool)
}

// Transferable is a hosted resource whose leadership can be handed over.
type Transferable interface {
	TransferLeadership(target *model.NodeID) *cluster.Error
}

// PartitionHost is the shard-local view the dispatcher executes against. A
// nil result from either lookup means the resource is not (or no longer)
// hosted on that shard.
type PartitionHost interface {
	Partition(ntp model.NTP) Transferable
	Consensus(group model.GroupID) Transferable
}

// Invoker executes fn on the goroutine owning the given shard and returns
// its result.
type Invoker interface {
	Invoke(ctx context.Context, shardID uint32, fn func(host PartitionHost) *cluster.Error) *cluster.Error
}

// ReplicaView is the cached replica placement used for pre-dispatch
// validation. A miss means the placement is unknown here, not that the
// partition does not exist.
type ReplicaView interface {
	Replicas(ntp model.NTP) ([]model.BrokerShard, bool)
}

// ReplicaMover applies replica placement changes (the controller).
type ReplicaMover interface {
	MovePartitionReplicas(ctx context.Context, ntp model.NTP, replicas []model.BrokerShard) *cluster.Error
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// Dispatcher routes control operations to the shard owning the addressed
// resource. It runs on ordinary goroutines (never on a shard), so awaiting
// the owning shard cannot deadlock the shard runtime.
type Dispatcher struct {
	table     ShardLookup
	invoker   Invoker
	replicas  ReplicaView
	mover     ReplicaMover
	admission *sched.AdmissionGroup
}

// NewDispatcher wires the dispatcher to its collaborators. admission may be
// nil, leaving dispatch unbounded (used by tests).
func NewDispatcher(table ShardLookup, invoker Invoker, replicas ReplicaView, mover ReplicaMover, admission *sched.AdmissionGroup) (*Dispatcher, error) {
	if table == nil || invoker == nil {
		return nil, errors.New("dispatcher requires a shard table and an invoker")
	}
	return &Dispatcher{
		table:     table,
		invoker:   invoker,
		replicas:  replicas,
		mover:     mover,
		admission: admission,
	}, nil
}

// admit takes an admission slot, translating a context failure into the
// shared taxonomy. The returned release func is a no-op when admission is
// unbounded.
func (d *Dispatcher) admit(ctx context.Context) (func(), *cluster.Error) {
	if d.admission == nil {
		return func() {}, nil
	}
	if err := d.admission.Acquire(ctx); err != nil {
		return nil, cluster.NewErrorf(cluster.ErrCTimeout, "dispatch admission: %v", err)
	}
	return d.admission.Release, nil
}

// TransferGroupLeadership hands leadership of a raft group to the target
// node, or lets raft pick one if target is nil. An unknown group is a
// not-found result under both the table lookup and the shard-local lookup.
func (d *Dispatcher) TransferGroupLeadership(ctx context.Context, group model.GroupID, target *model.NodeID) *cluster.Error {
	release, cerr := d.admit(ctx)
	if cerr != nil {
		return cerr
	}
	defer release()

	shardID, ok := d.table.ShardForGroup(group)
	if !ok {
		return cluster.NewErrorf(cluster.ErrCNotFound, "raft group %s not found", group)
	}

	return d.invoker.Invoke(ctx, shardID, func(host PartitionHost) *cluster.Error {
		// Second lookup on the owning shard: the group may have moved since
		// the table was consulted.
		p := host.Consensus(group)
		if p == nil {
			return cluster.NewErrorf(cluster.ErrCNotFound, "raft group %s not found", group)
		}
		return p.TransferLeadership(target)
	})
}

// TransferPartitionLeadership hands leadership of a topic-partition to the
// target node. An explicit target outside the partition's cached replica set
// is rejected before anything is dispatched.
func (d *Dispatcher) TransferPartitionLeadership(ctx context.Context, ntp model.NTP, target *model.NodeID) *cluster.Error {
	release, cerr := d.admit(ctx)
	if cerr != nil {
		return cerr
	}
	defer release()

	if target != nil && d.replicas != nil {
		if replicas, known := d.replicas.Replicas(ntp); known && !replicaSetContains(replicas, *target) {
			return cluster.NewErrorf(cluster.ErrCInvalidArgument, "node %s is not a replica of %s", target, ntp)
		}
	}

	shardID, ok := d.table.ShardForNTP(ntp)
	if !ok {
		return cluster.NewErrorf(cluster.ErrCNotFound, "partition %s not found", ntp)
	}

	return d.invoker.Invoke(ctx, shardID, func(host PartitionHost) *cluster.Error {
		p := host.Partition(ntp)
		if p == nil {
			return cluster.NewErrorf(cluster.ErrCNotFound, "partition %s not found", ntp)
		}
		return p.TransferLeadership(target)
	})
}

// MovePartitionReplicas changes the replica placement of a partition through
// the controller. An empty target set is rejected before any lookup.
func (d *Dispatcher) MovePartitionReplicas(ctx context.Context, ntp model.NTP, replicas []model.BrokerShard) *cluster.Error {
	release, cerr := d.admit(ctx)
	if cerr != nil {
		return cerr
	}
	defer release()

	if len(replicas) == 0 {
		return cluster.NewError(cluster.ErrCInvalidArgument, "partition movement requires target replica set")
	}
	if d.mover == nil {
		return cluster.NewError(cluster.ErrCInternal, "no replica mover configured")
	}

	log.Infof("moving replicas of %s to %v", ntp, replicas)
	return d.mover.MovePartitionReplicas(ctx, ntp, replicas)
}

func replicaSetContains(replicas []model.BrokerShard, node model.NodeID) bool {
	for _, r := range replicas {
		if r.Node == node {
			return true
		}
	}
	return false
}
