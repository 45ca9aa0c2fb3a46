package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
//
// Layout: 1 byte MsgType, 2 bytes flags (big endian), then every field whose
// flag is set in the order of the flags below. Strings and byte slices are
// prefixed with a 4 byte length, numbers take 8 bytes. Ok is encoded by its
// flag alone.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey        uint16 = 1 << 0
	hasIdentifier uint16 = 1 << 1
	hasChannel    uint16 = 1 << 2
	hasLeaseMs    uint16 = 1 << 3
	hasSeq        uint16 = 1 << 4
	hasTimeoutMs  uint16 = 1 << 5
	hasOk         uint16 = 1 << 6
	hasNum        uint16 = 1 << 7
	hasValue      uint16 = 1 << 8
	hasCode       uint16 = 1 << 9
	hasErr        uint16 = 1 << 10
)

// headerSize is MsgType + flags
const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, b.sizeBytes(msg))

	// Write message type
	result[0] = byte(msg.MsgType)

	var flags uint16
	pos := headerSize

	if msg.Key != "" {
		flags |= hasKey
		pos = putBytes(result, pos, []byte(msg.Key))
	}
	if msg.Identifier != "" {
		flags |= hasIdentifier
		pos = putBytes(result, pos, []byte(msg.Identifier))
	}
	if msg.Channel != "" {
		flags |= hasChannel
		pos = putBytes(result, pos, []byte(msg.Channel))
	}
	if msg.LeaseMs != 0 {
		flags |= hasLeaseMs
		pos = putUint64(result, pos, uint64(msg.LeaseMs))
	}
	if msg.Seq != 0 {
		flags |= hasSeq
		pos = putUint64(result, pos, msg.Seq)
	}
	if msg.TimeoutMs != 0 {
		flags |= hasTimeoutMs
		pos = putUint64(result, pos, uint64(msg.TimeoutMs))
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Num != 0 {
		flags |= hasNum
		pos = putUint64(result, pos, uint64(msg.Num))
	}
	if msg.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, msg.Value)
	}
	if msg.Code != 0 {
		flags |= hasCode
		pos = putUint64(result, pos, msg.Code)
	}
	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(result[1:headerSize], flags)

	return result[:pos], nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:headerSize])
	pos := headerSize

	var (
		raw []byte
		n   uint64
		err error
	)

	if flags&hasKey != 0 {
		if raw, pos, err = readBytes(data, pos, "key"); err != nil {
			return err
		}
		msg.Key = string(raw)
	}
	if flags&hasIdentifier != 0 {
		if raw, pos, err = readBytes(data, pos, "identifier"); err != nil {
			return err
		}
		msg.Identifier = string(raw)
	}
	if flags&hasChannel != 0 {
		if raw, pos, err = readBytes(data, pos, "channel"); err != nil {
			return err
		}
		msg.Channel = string(raw)
	}
	if flags&hasLeaseMs != 0 {
		if n, pos, err = readUint64(data, pos, "LeaseMs"); err != nil {
			return err
		}
		msg.LeaseMs = int64(n)
	}
	if flags&hasSeq != 0 {
		if msg.Seq, pos, err = readUint64(data, pos, "Seq"); err != nil {
			return err
		}
	}
	if flags&hasTimeoutMs != 0 {
		if n, pos, err = readUint64(data, pos, "TimeoutMs"); err != nil {
			return err
		}
		msg.TimeoutMs = int64(n)
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasNum != 0 {
		if n, pos, err = readUint64(data, pos, "Num"); err != nil {
			return err
		}
		msg.Num = int64(n)
	}
	if flags&hasValue != 0 {
		if raw, pos, err = readBytes(data, pos, "value"); err != nil {
			return err
		}
		// copy so the message does not alias a pooled transport buffer
		msg.Value = make([]byte, len(raw))
		copy(msg.Value, raw)
	}
	if flags&hasCode != 0 {
		if msg.Code, pos, err = readUint64(data, pos, "Code"); err != nil {
			return err
		}
	}
	if flags&hasErr != 0 {
		if raw, pos, err = readBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(raw)
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize

	// 4 bytes length prefix + data
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Identifier != "" {
		size += 4 + len(msg.Identifier)
	}
	if msg.Channel != "" {
		size += 4 + len(msg.Channel)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}

	// 8 bytes per number
	for _, set := range []bool{msg.LeaseMs != 0, msg.Seq != 0, msg.TimeoutMs != 0, msg.Num != 0, msg.Code != 0} {
		if set {
			size += 8
		}
	}

	return size
}

func putUint64(buf []byte, pos int, v uint64) int {
	binary.BigEndian.PutUint64(buf[pos:pos+8], v)
	return pos + 8
}

func putBytes(buf []byte, pos int, data []byte) int {
	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(len(data)))
	pos += 4
	copy(buf[pos:pos+len(data)], data)
	return pos + len(data)
}

func readUint64(data []byte, pos int, field string) (uint64, int, error) {
	if pos+8 > len(data) {
		return 0, pos, fmt.Errorf("data too short for %s", field)
	}
	return binary.BigEndian.Uint64(data[pos : pos+8]), pos + 8, nil
}

// readBytes returns a sub slice of data, callers copy it if they keep it
func readBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}
