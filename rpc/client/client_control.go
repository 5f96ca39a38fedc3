package client

import (
	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/serializer"
	"github.com/ValentinKolb/dMQ/rpc/transport"
)

// IControlClient is the client side of the broker's control plane. All
// operations return results from the shared taxonomy; a nil result means
// success.
type IControlClient interface {
	// TransferGroupLeadership hands leadership of a raft group to the target
	// node. A nil target lets raft pick the new leader.
	TransferGroupLeadership(group model.GroupID, target *model.NodeID) *cluster.Error

	// TransferPartitionLeadership hands leadership of a topic-partition to
	// the target node.
	TransferPartitionLeadership(ntp model.NTP, target *model.NodeID) *cluster.Error

	// MovePartitionReplicas changes the replica placement of a partition.
	MovePartitionReplicas(ntp model.NTP, replicas []model.BrokerShard) *cluster.Error

	// Ping probes liveness of the remote control plane.
	Ping() *cluster.Error

	// Close releases the underlying transport connections.
	Close() error
}

// NewControlClient creates a new control-plane RPC client
// The function takes a config, a transport and a serializer as parameters
// It returns an IControlClient and an error
func NewControlClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (IControlClient, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	c := controlClient{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}

	return &c, nil
}

type controlClient struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods
// --------------------------------------------------------------------------

func (c *controlClient) TransferGroupLeadership(group model.GroupID, target *model.NodeID) *cluster.Error {
	req := common.NewTransferGroupRequest(uint64(group), wireTarget(target))
	return resultOf(invokeRPCRequest(req, c.transport, c.serializer))
}

func (c *controlClient) TransferPartitionLeadership(ntp model.NTP, target *model.NodeID) *cluster.Error {
	req := common.NewTransferPartitionRequest(ntp.Key(), wireTarget(target))
	return resultOf(invokeRPCRequest(req, c.transport, c.serializer))
}

func (c *controlClient) MovePartitionReplicas(ntp model.NTP, replicas []model.BrokerShard) *cluster.Error {
	req := common.NewMoveReplicasRequest(ntp.Key(), model.BrokerShardsToPairs(replicas))
	return resultOf(invokeRPCRequest(req, c.transport, c.serializer))
}

func (c *controlClient) Ping() *cluster.Error {
	return resultOf(invokeRPCRequest(common.NewPingRequest(), c.transport, c.serializer))
}

func (c *controlClient) Close() error {
	return c.transport.Close()
}

// wireTarget converts an optional node id into the wire representation.
func wireTarget(target *model.NodeID) *uint64 {
	if target == nil {
		return nil
	}
	v := uint64(*target)
	return &v
}
