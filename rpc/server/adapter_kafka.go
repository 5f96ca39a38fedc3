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

// NewKafkaServerAdapter creates the adapter for the kafka service: operations
// addressed by topic-partition.
func NewKafkaServerAdapter(d *dispatch.Dispatcher, timeout time.Duration) IRPCServerAdapter {
	return &kafkaServerAdapterImpl{dispatcher: d, timeout: timeout}
}

type kafkaServerAdapterImpl struct {
	dispatcher *dispatch.Dispatcher
	timeout    time.Duration
}

func (adapter *kafkaServerAdapterImpl) Handle(req *common.Message) *common.Message {
	ctx, cancel := context.WithTimeout(context.Background(), adapter.timeout)
	defer cancel()

	switch req.MsgType {
	case common.MsgTTransferPartition:
		ntp, err := model.ParseNTP(req.NTP)
		if err != nil {
			return resultResponse(req.MsgType, cluster.NewErrorf(cluster.ErrCInvalidArgument, "%v", err))
		}
		cerr := adapter.dispatcher.TransferPartitionLeadership(ctx, ntp, targetOf(req))
		return resultResponse(req.MsgType, cerr)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("kafka service: unsupported message type: %s", req.MsgType),
		)
	}
}
