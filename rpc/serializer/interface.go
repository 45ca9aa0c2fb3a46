package serializer

import "github.com/ValentinKolb/dLock/rpc/common"

// IRPCSerializer converts Messages to and from their wire format.
// Implementations are stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. All fields of msg are overwritten,
	// so a Message can be reused across calls.
	Deserialize(b []byte, msg *common.Message) error
}
