package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/dispatch"
)

// NewClusterServerAdapter creates the adapter for the cluster service:
// metadata operations (replica movement) and liveness probes.
func NewClusterServerAdapter(d *dispatch.Dispatcher, timeout time.Duration) IRPCServerAdapter {
	return &clusterServerAdapterImpl{dispatcher: d, timeout: timeout}
}

type clusterServerAdapterImpl struct {
	dispatcher *dispatch.Dispatcher
	timeout    time.Duration
}

func (adapter *clusterServerAdapterImpl) Handle(req *common.Message) *common.Message {
	ctx, cancel := context.WithTimeout(context.Background(), adapter.timeout)
	defer cancel()

	switch req.MsgType {
	case common.MsgTMoveReplicas:
		ntp, err := model.ParseNTP(req.NTP)
		if err != nil {
			return resultResponse(req.MsgType, cluster.NewErrorf(cluster.ErrCInvalidArgument, "%v", err))
		}
		replicas, err := model.BrokerShardsFromPairs(req.Replicas)
		if err != nil {
			return resultResponse(req.MsgType, cluster.NewErrorf(cluster.ErrCInvalidArgument, "%v", err))
		}
		cerr := adapter.dispatcher.MovePartitionReplicas(ctx, ntp, replicas)
		return resultResponse(req.MsgType, cerr)
	case common.MsgTPing:
		return resultResponse(req.MsgType, nil)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("cluster service: unsupported message type: %s", req.MsgType),
		)
	}
}
