package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/dispatch"
)

// NewRaftServerAdapter creates the adapter for the raft service: operations
// addressed by raft group id.
func NewRaftServerAdapter(d *dispatch.Dispatcher, timeout time.Duration) IRPCServerAdapter {
	return &raftServerAdapterImpl{dispatcher: d, timeout: timeout}
}

type raftServerAdapterImpl struct {
	dispatcher *dispatch.Dispatcher
	timeout    time.Duration
}

func (adapter *raftServerAdapterImpl) Handle(req *common.Message) *common.Message {
	ctx, cancel := context.WithTimeout(context.Background(), adapter.timeout)
	defer cancel()

	switch req.MsgType {
	case common.MsgTTransferGroup:
		cerr := adapter.dispatcher.TransferGroupLeadership(ctx, model.GroupID(req.Group), targetOf(req))
		return resultResponse(req.MsgType, cerr)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("raft service: unsupported message type: %s", req.MsgType),
		)
	}
}
