package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dMQ/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	target := uint64(3)
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Group transfer request without explicit target
		*common.NewTransferGroupRequest(7, nil),

		// Group transfer request with explicit target
		*common.NewTransferGroupRequest(7, &target),

		// Partition transfer request
		*common.NewTransferPartitionRequest("kafka/orders/0", &target),

		// Replica movement request
		*common.NewMoveReplicasRequest("kafka/orders/0", []uint64{1, 0, 2, 1}),

		// Error response
		{
			MsgType: common.MsgTError,
			Err:     "test error message",
		},

		// Message with all fields filled
		{
			MsgType:   common.MsgTMoveReplicas,
			Service:   common.ServiceCluster,
			NTP:       "kafka/orders/3",
			Group:     42,
			Target:    2,
			HasTarget: true,
			Replicas:  []uint64{1, 0},
			Code:      2,
			Ok:        true,
			Err:       "",
			Meta:      []byte("test-meta-data"),
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize
				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestBinarySerializerTargetZero tests that an explicit transfer target of
// node id zero survives the round trip (the target flag must be separate
// from the value)
func TestBinarySerializerTargetZero(t *testing.T) {
	serializer := NewBinarySerializer()
	zero := uint64(0)
	msg := *common.NewTransferGroupRequest(7, &zero)

	data, err := serializer.Serialize(msg)
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	var result common.Message
	if err := serializer.Deserialize(data, &result); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}

	if !result.HasTarget || result.Target != 0 {
		t.Errorf("expected explicit target 0, got has=%v target=%d", result.HasTarget, result.Target)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 1}, // Message type and service, no flags
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 1, 0}, // Message type 1, service 1, no flags
			expectError: false,
		},
		{
			name:        "Invalid length for ntp",
			data:        []byte{1, 1, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims ntp length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid count for replicas",
			data:        []byte{1, 1, 8, 0, 0, 0, 10}, // Claims 10 replicas but no bytes provided
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}
