package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTExists    QueryType = iota // Check if a lock is held.
	QueryTIsMember                   // Check if an identifier holds a lock.
	QueryTHoldCount                  // Retrieve the hold count of an identifier.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTExists:
		return "Exists"
	case QueryTIsMember:
		return "IsMember"
	case QueryTHoldCount:
		return "HoldCount"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type       QueryType // The type of Query to perform.
	Key        string    // The key for the Query (empty for GetDBInfo).
	Identifier string    // The identifier for IsMember and HoldCount.
	Now        uint64    // Clock of the reader in ms.
}

// QueryResult is the result of the QueryTHoldCount operation.
// All other query results are primitive types or predefined structs (bool, db.DatabaseInfo).
type QueryResult struct {
	Ok    bool
	Count int64
}
