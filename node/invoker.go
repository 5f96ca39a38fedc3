package node

import (
	"context"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/lib/shard"
	"github.com/ValentinKolb/dMQ/rpc/dispatch"
)

// --------------------------------------------------------------------------
// Dispatch Adapters
// --------------------------------------------------------------------------

// partitionHost adapts a shard's partition manager to the dispatcher's
// shard-local view.
type partitionHost struct {
	pm *cluster.PartitionManager
}

func (h partitionHost) Partition(ntp model.NTP) dispatch.Transferable {
	if p := h.pm.Get(ntp); p != nil {
		return p
	}
	return nil
}

func (h partitionHost) Consensus(group model.GroupID) dispatch.Transferable {
	if p := h.pm.ConsensusFor(group); p != nil {
		return p
	}
	return nil
}

// shardInvoker executes dispatch closures on the owning shard's goroutine.
type shardInvoker struct {
	partitions *shard.Sharded[*cluster.PartitionManager]
}

func (i *shardInvoker) Invoke(ctx context.Context, shardID uint32, fn func(host dispatch.PartitionHost) *cluster.Error) *cluster.Error {
	res, err := shard.InvokeOn(ctx, i.partitions, shardID, func(pm *cluster.PartitionManager) (*cluster.Error, error) {
		return fn(partitionHost{pm: pm}), nil
	})
	if err != nil {
		return cluster.NewErrorf(cluster.ErrCInternal, "cross-shard invoke: %v", err)
	}
	return res
}

// --------------------------------------------------------------------------
// Peer Forwarding
// --------------------------------------------------------------------------

// peerForwarder hands leadership transfers to the peer that leads the group,
// over the node's cached control connections.
type peerForwarder struct {
	n *Node
}

func (p *peerForwarder) TransferGroupLeadership(node model.NodeID, group model.GroupID, target *model.NodeID) *cluster.Error {
	endpoint, ok := p.n.cfg.ControlMembers[uint64(node)]
	if !ok {
		return cluster.NewErrorf(cluster.ErrCNotFound, "no control endpoint configured for node %s", node)
	}
	c, err := p.n.conns.Get(node, endpoint)
	if err != nil {
		return cluster.NewErrorf(cluster.ErrCInternal, "connecting to node %s: %v", node, err)
	}
	return c.TransferGroupLeadership(group, target)
}

// --------------------------------------------------------------------------
// Placement Frontend
// --------------------------------------------------------------------------

// HostPartition starts hosting a partition on the shard its replica placement
// names for this node, then publishes the assignment in the shard table and
// the controller metadata.
func (n *Node) HostPartition(ctx context.Context, ntp model.NTP, group model.GroupID, replicas []model.BrokerShard) *cluster.Error {
	var shardID uint32
	placed := false
	for _, r := range replicas {
		if r.Node == n.nodeID() {
			shardID, placed = r.Shard, true
			break
		}
	}
	if !placed {
		return cluster.NewErrorf(cluster.ErrCInvalidArgument, "no replica of %s is placed on node %s", ntp, n.nodeID())
	}
	if shardID >= n.runtime.Count() {
		return cluster.NewErrorf(cluster.ErrCInvalidArgument, "shard %d out of range (node has %d shards)", shardID, n.runtime.Count())
	}

	_, err := shard.InvokeOn(ctx, n.partitions, shardID, func(pm *cluster.PartitionManager) (struct{}, error) {
		_, err := pm.CreatePartition(ntp, group, replicas, n.cfg.ClusterMembers)
		return struct{}{}, err
	})
	if err != nil {
		return cluster.NewErrorf(cluster.ErrCInternal, "creating partition %s: %v", ntp, err)
	}

	// publish only after the partition exists on its shard
	n.table.Assign(group, ntp, shardID)
	if cerr := n.controller.RegisterPartition(ctx, ntp, replicas); cerr != nil {
		return cerr
	}
	return nil
}

// DropPartition stops hosting a partition and removes it from the shard
// table. Unknown partitions are a no-op.
func (n *Node) DropPartition(ctx context.Context, ntp model.NTP, group model.GroupID) *cluster.Error {
	shardID, ok := n.table.ShardForNTP(ntp)
	if !ok {
		return nil
	}

	// retract visibility first so no new dispatches route to the shard
	n.table.Unassign(group, ntp)

	_, err := shard.InvokeOn(ctx, n.partitions, shardID, func(pm *cluster.PartitionManager) (struct{}, error) {
		pm.RemovePartition(ntp)
		return struct{}{}, nil
	})
	if err != nil {
		return cluster.NewErrorf(cluster.ErrCInternal, "removing partition %s: %v", ntp, err)
	}
	return nil
}
