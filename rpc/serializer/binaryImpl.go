package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dMQ/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasNTP      byte = 1 << 0
	hasGroup    byte = 1 << 1
	hasTarget   byte = 1 << 2
	hasReplicas byte = 1 << 3
	hasCode     byte = 1 << 4
	hasOk       byte = 1 << 5
	hasErr      byte = 1 << 6
	hasMeta     byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type and service tag
	result[0] = byte(msg.MsgType)
	result[1] = byte(msg.Service)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := 3 // Start after MsgType, Service and flags

	// Handle NTP
	if msg.NTP != "" {
		flags |= hasNTP
		ntpBytes := []byte(msg.NTP)
		ntpLen := len(ntpBytes)

		// Write ntp length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(ntpLen))
		pos += 4

		// Write ntp data
		copy(result[pos:pos+ntpLen], ntpBytes)
		pos += ntpLen
	}

	// Handle Group
	if msg.Group > 0 {
		flags |= hasGroup
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Group)
		pos += 8
	}

	// Handle Target (the flag carries HasTarget so node id 0 stays valid)
	if msg.HasTarget {
		flags |= hasTarget
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Target)
		pos += 8
	}

	// Handle Replicas
	if msg.Replicas != nil {
		flags |= hasReplicas
		replicaLen := len(msg.Replicas)

		// Write replica count
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(replicaLen))
		pos += 4

		// Write replica data
		for _, r := range msg.Replicas {
			binary.BigEndian.PutUint64(result[pos:pos+8], r)
			pos += 8
		}
	}

	// Handle Code
	if msg.Code > 0 {
		flags |= hasCode
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Code)
		pos += 8
	}

	// Handle Ok
	if msg.Ok {
		flags |= hasOk
		result[pos] = 1
		pos += 1
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		errBytes := []byte(msg.Err)
		errLen := len(errBytes)

		// Write error length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(errLen))
		pos += 4

		// Write error data
		copy(result[pos:pos+errLen], errBytes)
		pos += errLen
	}

	// Handle Meta
	if msg.Meta != nil {
		flags |= hasMeta
		metaLen := len(msg.Meta)

		// Write meta length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(metaLen))
		pos += 4

		// Write meta data
		if metaLen > 0 {
			copy(result[pos:pos+metaLen], msg.Meta)
			pos += metaLen
		}
	}

	// Set flags byte after knowing which fields are present
	result[2] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + Service + flags)
	if len(data) < 3 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type and service tag
	msg.MsgType = common.MessageType(data[0])
	msg.Service = common.ServiceTag(data[1])

	// Read flags
	flags := data[2]

	// Initialize read position
	pos := 3

	// Read NTP if present
	if flags&hasNTP != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for ntp length")
		}

		// Read ntp length
		ntpLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(ntpLen) > len(data) {
			return fmt.Errorf("data too short for ntp data")
		}

		// Read ntp data
		msg.NTP = string(data[pos : pos+int(ntpLen)])
		pos += int(ntpLen)
	} else {
		msg.NTP = ""
	}

	// Read Group if present
	if flags&hasGroup != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for group")
		}

		msg.Group = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.Group = 0
	}

	// Read Target if present
	if flags&hasTarget != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for target")
		}

		msg.Target = binary.BigEndian.Uint64(data[pos : pos+8])
		msg.HasTarget = true
		pos += 8
	} else {
		msg.Target = 0
		msg.HasTarget = false
	}

	// Read Replicas if present
	if flags&hasReplicas != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for replica count")
		}

		// Read replica count
		replicaLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(replicaLen)*8 > len(data) {
			return fmt.Errorf("data too short for replica data")
		}

		// Read replica data - create an empty slice (not nil) if length is 0
		// Allocate only if needed
		if msg.Replicas == nil || cap(msg.Replicas) < int(replicaLen) {
			msg.Replicas = make([]uint64, replicaLen)
		} else {
			msg.Replicas = msg.Replicas[:replicaLen]
		}

		for i := 0; i < int(replicaLen); i++ {
			msg.Replicas[i] = binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
		}
	} else {
		msg.Replicas = nil
	}

	// Read Code if present
	if flags&hasCode != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for code")
		}

		msg.Code = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	} else {
		msg.Code = 0
	}

	// Read Ok if present
	if flags&hasOk != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for Ok flag")
		}

		msg.Ok = data[pos] != 0
		pos += 1
	} else {
		msg.Ok = false
	}

	// Read Err if present
	if flags&hasErr != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for error length")
		}

		// Read error length
		errLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(errLen) > len(data) {
			return fmt.Errorf("data too short for error data")
		}

		// Read error data
		msg.Err = string(data[pos : pos+int(errLen)])
		pos += int(errLen)
	} else {
		msg.Err = ""
	}

	// Read Meta if present
	if flags&hasMeta != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for meta length")
		}

		// Read meta length
		metaLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(metaLen) > len(data) {
			return fmt.Errorf("data too short for meta data")
		}

		// Read metadata - create an empty slice (not nil) if length is 0
		// Allocate only if needed
		if msg.Meta == nil || cap(msg.Meta) < int(metaLen) {
			msg.Meta = make([]byte, metaLen)
		} else {
			msg.Meta = msg.Meta[:metaLen]
		}

		if metaLen > 0 {
			copy(msg.Meta, data[pos:pos+int(metaLen)])
		}
		pos += int(metaLen)
	} else {
		msg.Meta = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for Service + 1 byte for flags
	size := 3

	// Add sizes for fields that require length encoding
	if msg.NTP != "" {
		size += 4 + len(msg.NTP) // 4 bytes for length + ntp string
	}
	if msg.Group > 0 {
		size += 8 // uint64
	}
	if msg.HasTarget {
		size += 8 // uint64
	}
	if msg.Replicas != nil {
		size += 4 + 8*len(msg.Replicas) // 4 bytes for count + entries
	}
	if msg.Code > 0 {
		size += 8 // uint64
	}
	if msg.Ok {
		size += 1 // 1 byte for boolean
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta) // 4 bytes for length + meta bytes
	}

	return size
}
