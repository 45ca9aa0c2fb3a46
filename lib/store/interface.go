package store

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.LockDB

// IStore is the generic interface for interacting with a lock store.
// Every operation is atomic. Errors are of type *Error (nil on success).
type IStore interface {
	// Acquire takes or re-enters the lock key for identifier. A leaseMs > 0
	// (re)sets the expiry. If the lock is held by someone else, acquired is
	// false and pttl is its remaining time to live in ms (-1 = no expiry).
	Acquire(key, identifier string, leaseMs int64) (acquired bool, pttl int64, err error)
	// Release leaves one hold of identifier. It returns the remaining count,
	// 0 if the lock was freed (a message is then published on channel) and
	// -1 if identifier does not hold the lock.
	Release(key, identifier, channel string) (count int64, err error)
	// Delete removes the lock regardless of its holder.
	Delete(key string) (deleted bool, err error)
	// Exists returns whether the lock is held by anyone.
	Exists(key string) (ok bool, err error)
	// IsMember returns whether identifier holds the lock.
	IsMember(key, identifier string) (ok bool, err error)
	// HoldCount returns the reentrancy count of identifier. ok is false if
	// identifier does not hold the lock.
	HoldCount(key, identifier string) (count int64, ok bool, err error)
	// Renew sets a new expiry if identifier holds the lock.
	Renew(key, identifier string, leaseMs int64) (renewed bool, err error)

	// Sequence returns the number of messages published on channel so far.
	Sequence(channel string) (seq uint64, err error)
	// Watch blocks until the sequence of channel is greater than after or ctx
	// is done. It returns the current sequence in both cases; the error is
	// ctx.Err() if ctx ended the wait.
	Watch(ctx context.Context, channel string, after uint64) (seq uint64, err error)

	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("LockStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new LockStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}
