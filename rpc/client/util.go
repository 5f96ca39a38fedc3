package client

import (
	"fmt"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/rpc/common"
	"github.com/ValentinKolb/dMQ/rpc/serializer"
	"github.com/ValentinKolb/dMQ/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores all data needed for an RPC client implementation
// Used by the control client with composition pattern
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest is a helper function used for all RPC clients to send requests
// It routes the request to the service named in the message and returns the decoded response
// Transport level failures surface as Go errors; operation results (including
// failed operations) are carried inside the response message
func invokeRPCRequest(req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request to the addressed service
	respBytes, err := transport.Send(uint64(req.Service), reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %s", err)
	}

	// Check if the response is a transport level error response
	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("rpc error: %s", resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}

// resultOf translates a response (or a transport error) into the shared
// result taxonomy. Transport failures map to the internal error code.
func resultOf(resp *common.Message, err error) *cluster.Error {
	if err != nil {
		return cluster.NewErrorf(cluster.ErrCInternal, "rpc: %v", err)
	}
	if resp.Ok {
		return nil
	}
	return cluster.NewError(cluster.ErrCode(resp.Code), resp.Err)
}
