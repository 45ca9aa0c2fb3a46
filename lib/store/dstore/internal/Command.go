package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTAcquire CommandType = iota // Acquire or re-enter a lock.
	CommandTRelease                    // Leave one hold of a lock.
	CommandTDelete                     // Delete a lock regardless of its holder.
	CommandTRenew                      // Set a new lease for a held lock.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTAcquire:
		return "Acquire"
	case CommandTRelease:
		return "Release"
	case CommandTDelete:
		return "Delete"
	case CommandTRenew:
		return "Renew"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTAcquire:
		return db.FeatureAcquire, nil
	case CommandTRelease:
		return db.FeatureRelease, nil
	case CommandTDelete:
		return db.FeatureDelete, nil
	case CommandTRenew:
		return db.FeatureRenew, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type       CommandType
	Now        uint64 // clock of the proposer in ms
	LeaseMs    int64
	Key        string
	Identifier string
	Channel    string
}

// headerSize is the size of the fixed part of a serialized command:
// Type + Now + LeaseMs + 3 string lengths
const headerSize = 1 + 8 + 8 + 3*4

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Identifier) + len(command.Channel)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for the clock,
// 8 bytes for the lease,
// 4 bytes length + N bytes each for key, identifier and channel (big endian)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], command.Now)
	binary.BigEndian.PutUint64(result[9:17], uint64(command.LeaseMs))

	pos := 17
	for _, s := range []string{command.Key, command.Identifier, command.Channel} {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(s)))
		pos += 4
		pos += copy(result[pos:], s)
	}
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Now = binary.BigEndian.Uint64(data[1:9])
	command.LeaseMs = int64(binary.BigEndian.Uint64(data[9:17]))

	pos := 17
	fields := []*string{&command.Key, &command.Identifier, &command.Channel}
	for _, field := range fields {
		if len(data) < pos+4 {
			return fmt.Errorf("data too short for string length at %d", pos)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if len(data) < pos+n {
			return fmt.Errorf("data too short for string of length %d", n)
		}
		*field = string(data[pos : pos+n])
		pos += n
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after command", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Command Results
// --------------------------------------------------------------------------

// EncodeResult encodes the result of a command as 1 byte flag + 8 bytes number
func EncodeResult(ok bool, n int64) []byte {
	data := make([]byte, 9)
	if ok {
		data[0] = 1
	}
	binary.BigEndian.PutUint64(data[1:], uint64(n))
	return data
}

// DecodeResult decodes a result encoded with EncodeResult
func DecodeResult(data []byte) (bool, int64, error) {
	if len(data) != 9 {
		return false, 0, fmt.Errorf("invalid result of length %d", len(data))
	}
	return data[0] == 1, int64(binary.BigEndian.Uint64(data[1:])), nil
}
