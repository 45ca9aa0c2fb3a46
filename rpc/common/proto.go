package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key        string `json:"key,omitempty"`        // Used for: all lock operations
	Identifier string `json:"identifier,omitempty"` // Used for: Acquire, Release, IsMember, HoldCount, Renew
	Channel    string `json:"channel,omitempty"`    // Used for: Release, Sequence, Watch
	LeaseMs    int64  `json:"leaseMs,omitempty"`    // Used for: Acquire, Renew
	Seq        uint64 `json:"seq,omitempty"`        // Used for: Watch (request), Sequence and Watch (response)
	TimeoutMs  int64  `json:"timeoutMs,omitempty"`  // Used for: Watch

	// Response only fields
	Ok    bool   `json:"ok,omitempty"`    // Used for: Acquire, Delete, Exists, IsMember, HoldCount, Renew, Watch
	Num   int64  `json:"num,omitempty"`   // Used for: Acquire (pttl), Release and HoldCount (count)
	Value []byte `json:"value,omitempty"` // Used for: DBInfo (json encoded db.DatabaseInfo)
	Code  uint64 `json:"code,omitempty"`  // store.RetCode of Err
	Err   string `json:"err,omitempty"`   // Empty if no error, otherwise contains the error message
}

// setErr stores err in the message. A *store.Error keeps its return code.
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	var sErr *store.Error
	if errors.As(err, &sErr) {
		m.Code = uint64(sErr.Code)
		m.Err = sErr.Msg
	} else {
		m.Code = uint64(store.RetCInternalError)
		m.Err = err.Error()
	}
	return m
}

// AsError converts the error fields of a response back into a *store.Error.
// It returns nil if the message carries no error.
func (m *Message) AsError() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	return store.NewError(store.RetCode(m.Code), m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewAcquireRequest creates a new Acquire request
func NewAcquireRequest(key, identifier string, leaseMs int64) *Message {
	return &Message{
		MsgType:    MsgTLCKAcquire,
		Key:        key,
		Identifier: identifier,
		LeaseMs:    leaseMs,
	}
}

// NewAcquireResponse creates a new Acquire response
func NewAcquireResponse(acquired bool, pttl int64, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKAcquire,
		Ok:      acquired,
		Num:     pttl,
	}
	return msg.setErr(err)
}

// NewReleaseRequest creates a new Release request
func NewReleaseRequest(key, identifier, channel string) *Message {
	return &Message{
		MsgType:    MsgTLCKRelease,
		Key:        key,
		Identifier: identifier,
		Channel:    channel,
	}
}

// NewReleaseResponse creates a new Release response
func NewReleaseResponse(count int64, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKRelease,
		Num:     count,
	}
	return msg.setErr(err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTLCKDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(deleted bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKDelete,
		Ok:      deleted,
	}
	return msg.setErr(err)
}

// NewExistsRequest creates a new Exists request
func NewExistsRequest(key string) *Message {
	return &Message{
		MsgType: MsgTLCKExists,
		Key:     key,
	}
}

// NewExistsResponse creates a new Exists response
func NewExistsResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKExists,
		Ok:      ok,
	}
	return msg.setErr(err)
}

// NewIsMemberRequest creates a new IsMember request
func NewIsMemberRequest(key, identifier string) *Message {
	return &Message{
		MsgType:    MsgTLCKIsMember,
		Key:        key,
		Identifier: identifier,
	}
}

// NewIsMemberResponse creates a new IsMember response
func NewIsMemberResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKIsMember,
		Ok:      ok,
	}
	return msg.setErr(err)
}

// NewHoldCountRequest creates a new HoldCount request
func NewHoldCountRequest(key, identifier string) *Message {
	return &Message{
		MsgType:    MsgTLCKHoldCount,
		Key:        key,
		Identifier: identifier,
	}
}

// NewHoldCountResponse creates a new HoldCount response
func NewHoldCountResponse(count int64, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKHoldCount,
		Num:     count,
		Ok:      ok,
	}
	return msg.setErr(err)
}

// NewRenewRequest creates a new Renew request
func NewRenewRequest(key, identifier string, leaseMs int64) *Message {
	return &Message{
		MsgType:    MsgTLCKRenew,
		Key:        key,
		Identifier: identifier,
		LeaseMs:    leaseMs,
	}
}

// NewRenewResponse creates a new Renew response
func NewRenewResponse(renewed bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKRenew,
		Ok:      renewed,
	}
	return msg.setErr(err)
}

// NewSequenceRequest creates a new Sequence request
func NewSequenceRequest(channel string) *Message {
	return &Message{
		MsgType: MsgTPubSeq,
		Channel: channel,
	}
}

// NewSequenceResponse creates a new Sequence response
func NewSequenceResponse(seq uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTPubSeq,
		Seq:     seq,
	}
	return msg.setErr(err)
}

// NewWatchRequest creates a new Watch request. The server waits at most
// timeoutMs for the sequence of channel to pass after.
func NewWatchRequest(channel string, after uint64, timeoutMs int64) *Message {
	return &Message{
		MsgType:   MsgTPubWatch,
		Channel:   channel,
		Seq:       after,
		TimeoutMs: timeoutMs,
	}
}

// NewWatchResponse creates a new Watch response. advanced is false if the
// wait timed out.
func NewWatchResponse(seq uint64, advanced bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTPubWatch,
		Seq:     seq,
		Ok:      advanced,
	}
	return msg.setErr(err)
}

// NewDBInfoRequest creates a new DBInfo request
func NewDBInfoRequest() *Message {
	return &Message{
		MsgType: MsgTDBInfo,
	}
}

// NewDBInfoResponse creates a new DBInfo response
func NewDBInfoResponse(info []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTDBInfo,
		Value:   info,
	}
	return msg.setErr(err)
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    uint64(store.RetCInvalidOperation),
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type
// --------------------------------------------------------------------------

// MessageType is an enum for the different types of messages
type MessageType uint8

// String returns the string representation of the message type
func (t MessageType) String() string {
	switch t {
	case MsgTLCKAcquire:
		return "acquire"
	case MsgTLCKRelease:
		return "release"
	case MsgTLCKDelete:
		return "delete"
	case MsgTLCKExists:
		return "exists"
	case MsgTLCKIsMember:
		return "isMember"
	case MsgTLCKHoldCount:
		return "holdCount"
	case MsgTLCKRenew:
		return "renew"
	case MsgTPubSeq:
		return "seq"
	case MsgTPubWatch:
		return "watch"
	case MsgTDBInfo:
		return "dbInfo"
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

	// Convert string back to MessageType
	switch s {
	case "acquire":
		*t = MsgTLCKAcquire
	case "release":
		*t = MsgTLCKRelease
	case "delete":
		*t = MsgTLCKDelete
	case "exists":
		*t = MsgTLCKExists
	case "isMember":
		*t = MsgTLCKIsMember
	case "holdCount":
		*t = MsgTLCKHoldCount
	case "renew":
		*t = MsgTLCKRenew
	case "seq":
		*t = MsgTPubSeq
	case "watch":
		*t = MsgTPubWatch
	case "dbInfo":
		*t = MsgTDBInfo
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

	// Lock record operations

	MsgTLCKAcquire   // Acquire or re-enter a lock
	MsgTLCKRelease   // Leave one hold of a lock
	MsgTLCKDelete    // Remove a lock regardless of its holder
	MsgTLCKExists    // Check if a lock is held
	MsgTLCKIsMember  // Check if an identifier holds a lock
	MsgTLCKHoldCount // Reentrancy count of an identifier
	MsgTLCKRenew     // Set a new lease for a held lock

	// Release notifications

	MsgTPubSeq   // Current sequence of a channel
	MsgTPubWatch // Wait for the sequence of a channel to advance

	// Introspection

	MsgTDBInfo // Metadata of the underlying database
)
