// Package internal provides the communication protocol structures and serialization
// logic for the dstore package.
//
// Command Format:
//
//	Commands are written to the RAFT log in a compact binary format:
//
//	- 1 byte: Command type (Acquire, Release, Delete, Renew)
//	- 8 bytes: clock of the proposer in ms (uint64, big endian)
//	- 8 bytes: lease in ms (int64, big endian)
//	- 4 bytes length + N bytes each: key, identifier and channel
//
//	The result of a command is encoded as 1 byte flag + 8 bytes number (see EncodeResult).
//
// Query Format:
//
//	Queries are executed locally on the state machine and are therefore not
//	serialized. They carry the clock of the reader.
package internal
