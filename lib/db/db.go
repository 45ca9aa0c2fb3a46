package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureAcquire        Feature = 1 << iota // Support for Acquire operations
	FeatureRelease                            // Support for Release operations
	FeatureDelete                             // Support for Delete operations
	FeatureExists                             // Support for Exists operations
	FeatureIsMember                           // Support for IsMember operations
	FeatureHoldCount                          // Support for HoldCount operations
	FeatureRenew                              // Support for Renew operations
	FeatureSave                               // Support for Save operations
	FeatureLoad                               // Support for Load operations
	FeatureGarbageCollect                     // Support for GarbageCollect operations
)

func (f Feature) String() string {
	switch f {
	case FeatureAcquire:
		return "Acquire"
	case FeatureRelease:
		return "Release"
	case FeatureDelete:
		return "Delete"
	case FeatureExists:
		return "Exists"
	case FeatureIsMember:
		return "IsMember"
	case FeatureHoldCount:
		return "HoldCount"
	case FeatureRenew:
		return "Renew"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// PTTL values for records without expiry and for missing records
const (
	PTTLNoExpiry int64 = -1
	PTTLMissing  int64 = -2
)

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// LockDB defines an interface for lock record databases.
//
// A lock record maps one owner identifier to a reentrancy count and has an
// optional expiry. All methods are atomic per key. The now parameter is a
// clock in milliseconds; write operations advance the database clock to now
// (the clock never goes backwards), read operations evaluate expiry at the
// later of now and the database clock without changing it.
type LockDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Acquire increments the count of identifier if the record is absent or
	// owned by identifier. A leaseMs > 0 (re)sets the expiry to now+leaseMs.
	// If the record is owned by someone else, acquired is false and pttl is
	// the remaining time to live of the record (PTTLNoExpiry if it has none).
	Acquire(key, identifier string, leaseMs int64, now uint64) (acquired bool, pttl int64)

	// Release decrements the count of identifier and deletes the record once
	// the count reaches zero. It returns the remaining count, 0 if the record
	// was deleted and -1 if identifier does not own the record.
	Release(key, identifier string, now uint64) (count int64)

	// Delete removes the record regardless of its owner and returns whether it existed.
	Delete(key string, now uint64) (deleted bool)

	// Renew sets the expiry to now+leaseMs if identifier owns the record.
	Renew(key, identifier string, leaseMs int64, now uint64) (renewed bool)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Exists returns whether a record exists for key.
	Exists(key string, now uint64) (ok bool)

	// IsMember returns whether identifier owns the record.
	IsMember(key, identifier string, now uint64) (ok bool)

	// HoldCount returns the count of identifier. ok is false if identifier
	// does not own the record.
	HoldCount(key, identifier string, now uint64) (count int64, ok bool)

	// PTTL returns the remaining time to live of the record in milliseconds.
	PTTL(key string, now uint64) (pttl int64)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Clock Operations
	// --------------------------------------------------------------------------

	// SetClock advances the clock of the database. Values lower than the current clock are ignored.
	SetClock(now uint64)

	// Clock returns the current clock of the database.
	Clock() (now uint64)

	// Close closes the database.
	Close() (err error)
}
