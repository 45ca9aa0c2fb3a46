// Package serializer encodes the common.Message of a lock or watch request and
// its response for the transport layer.
//
// Implementations:
//
//   - NewBinarySerializer: A compact layout written by hand. One byte message
//     type and a 16 bit flag word are followed by the fields whose flag is set,
//     in flag order. Strings and bytes carry a 4 byte length, numbers take 8
//     bytes. An acquire request with a uuid based identifier stays below 128
//     bytes. This is the default of the CLI.
//
//   - NewJSONSerializer: encoding/json with the message type as its name
//     ("acquire", "watch", ...). Easy to read in a packet capture or with curl
//     against the http transport.
//
//   - NewGOBSerializer: encoding/gob. Every message carries the gob type
//     description, so it is the largest and slowest of the three.
//
// Deserialize always overwrites the whole message, a reused Message never
// keeps a field of an earlier request.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewAcquireRequest("orders", id, 30_000))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(respData, &resp)
//
// All serializers are stateless and safe for concurrent use.
package serializer
