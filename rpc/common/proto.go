package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single control-plane message used for both requests
// and responses. Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Service selects the handler the server dispatches the request to
	Service ServiceTag `json:"service,omitempty"`

	// Request fields
	NTP       string   `json:"ntp,omitempty"`      // Used for: partition leadership transfer, replica movement
	Group     uint64   `json:"group,omitempty"`    // Used for: raft group leadership transfer
	Target    uint64   `json:"target,omitempty"`   // Optional transfer target node (valid iff HasTarget)
	HasTarget bool     `json:"has_target,omitempty"`
	Replicas  []uint64 `json:"replicas,omitempty"` // Flat node,shard pairs for replica movement

	// Response only fields
	Code uint64 `json:"code,omitempty"` // Operation result code
	Ok   bool   `json:"ok,omitempty"`
	Err  string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional adapters
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewTransferGroupRequest creates a leadership transfer request addressed by
// raft group id. A nil target lets raft pick the new leader.
func NewTransferGroupRequest(group uint64, target *uint64) *Message {
	msg := &Message{
		MsgType: MsgTTransferGroup,
		Service: ServiceRaft,
		Group:   group,
	}
	if target != nil {
		msg.Target = *target
		msg.HasTarget = true
	}
	return msg
}

// NewTransferPartitionRequest creates a leadership transfer request addressed
// by topic-partition.
func NewTransferPartitionRequest(ntp string, target *uint64) *Message {
	msg := &Message{
		MsgType: MsgTTransferPartition,
		Service: ServiceKafka,
		NTP:     ntp,
	}
	if target != nil {
		msg.Target = *target
		msg.HasTarget = true
	}
	return msg
}

// NewMoveReplicasRequest creates a replica movement request. Replicas is a
// flat list of node,shard pairs.
func NewMoveReplicasRequest(ntp string, replicas []uint64) *Message {
	return &Message{
		MsgType:  MsgTMoveReplicas,
		Service:  ServiceCluster,
		NTP:      ntp,
		Replicas: replicas,
	}
}

// NewPingRequest creates a liveness probe request.
func NewPingRequest() *Message {
	return &Message{
		MsgType: MsgTPing,
		Service: ServiceCluster,
	}
}

// NewResultResponse creates a response carrying an operation result code.
// Code zero means success.
func NewResultResponse(msgType MessageType, code uint64, errMsg string) *Message {
	return &Message{
		MsgType: msgType,
		Code:    code,
		Ok:      code == 0,
		Err:     errMsg,
	}
}

// NewErrorResponse creates a transport-level error response.
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Service Tag Definition
// --------------------------------------------------------------------------

// ServiceTag names the handler a request is dispatched to. One listener
// multiplexes all services; registration of two handlers under the same tag
// is a configuration error.
type ServiceTag uint8

const (
	ServiceUnknown ServiceTag = iota
	ServiceRaft               // raft group operations (leadership transfer)
	ServiceCluster            // cluster metadata operations (replica movement, ping)
	ServiceKafka              // partition operations addressed by topic-partition
)

// String returns the string representation of a ServiceTag.
func (t ServiceTag) String() string {
	switch t {
	case ServiceRaft:
		return "raft"
	case ServiceCluster:
		return "cluster"
	case ServiceKafka:
		return "kafka"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTTransferGroup:
		return "transferGroup"
	case MsgTTransferPartition:
		return "transferPartition"
	case MsgTMoveReplicas:
		return "moveReplicas"
	case MsgTPing:
		return "ping"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "transferGroup":
		*t = MsgTTransferGroup
	case "transferPartition":
		*t = MsgTTransferPartition
	case "moveReplicas":
		*t = MsgTMoveReplicas
	case "ping":
		*t = MsgTPing
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Raft service operations

	MsgTTransferGroup // Transfer leadership of a raft group

	// Kafka service operations

	MsgTTransferPartition // Transfer leadership of a topic-partition

	// Cluster service operations

	MsgTMoveReplicas // Move a partition's replica set
	MsgTPing         // Liveness probe
)
