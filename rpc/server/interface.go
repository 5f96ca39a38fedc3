package server

import (
	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// It is responsible for handling decoded requests for one service tag.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// If an error occurs, it is set in the response; adapters never return
	// Go errors across this boundary.
	Handle(req *common.Message) (resp *common.Message)
}

// --------------------------------------------------------------------------
// Shared Adapter Helpers
// --------------------------------------------------------------------------

// resultResponse translates an operation result into the wire form. The
// response echoes the request's message type so clients can match it.
func resultResponse(msgType common.MessageType, cerr *cluster.Error) *common.Message {
	if cerr == nil {
		return common.NewResultResponse(msgType, uint64(cluster.ErrCSuccess), "")
	}
	return common.NewResultResponse(msgType, uint64(cerr.Code), cerr.Msg)
}

// targetOf extracts the optional transfer target. HasTarget distinguishes
// "no target" from an explicit target of node 0.
func targetOf(req *common.Message) *model.NodeID {
	if !req.HasTarget {
		return nil
	}
	id := model.NodeID(req.Target)
	return &id
}
