package internal

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Record Type (lock record with metadata)
// --------------------------------------------------------------------------

// Record is the state of one lock
type Record struct {
	Owner    string // Identifier of the holder
	Count    int64  // Reentrancy count of the holder
	ExpireAt uint64 // Clock value at which the record expires (0 = never)
}

// Expired returns whether the record is expired at the given clock
func (r Record) Expired(now uint64) bool {
	return r.ExpireAt != 0 && now >= r.ExpireAt
}

// PTTL returns the remaining time to live in milliseconds (-1 = no expiry)
func (r Record) PTTL(now uint64) int64 {
	if r.ExpireAt == 0 {
		return -1
	}
	if now >= r.ExpireAt {
		return 0
	}
	return int64(r.ExpireAt - now)
}

func (r Record) String() string {
	return fmt.Sprintf("Record{Owner: %s, Count: %d, ExpireAt: %d}", r.Owner, r.Count, r.ExpireAt)
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database.
// Each shard has its own map and expiry heap.
type Shard struct {
	Data *xsync.MapOf[string, Record] // Map of live records

	mu       sync.Mutex
	expiries *util.MapHeap[string] // guarded by mu
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data:     xsync.NewMapOf[string, Record](),
		expiries: util.NewMapHeap[string](),
	}
}

// Schedule registers the expiry of a key (expireAt = 0 removes it)
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Schedule(key string, expireAt uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expireAt == 0 {
		s.expiries.RemoveByKey(key)
		return
	}
	s.expiries.AddItem(key, expireAt)
}

// Due removes and returns all keys scheduled to expire at or before now
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Shard) Due(now uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiries.PopDue(now)
}

// Scheduled returns the number of scheduled expiries
func (s *Shard) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiries.Len()
}
