package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("db")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum          = "DLOCKDB\x00"          // File format identifier
	mapleVersion      = 1                      // Database version
	defaultGCInterval = 100 * time.Millisecond // Default interval between GC runs
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements db.LockDB with sharded data
type mapleImpl struct {
	seed   uint64            // Seed for the shard hash
	shards []*internal.Shard // Array of shards
	clock  atomic.Uint64     // Current clock in ms (monotonic)

	// garbage collection
	gcInterval time.Duration
	gcMu       sync.Mutex
	gcStop     chan struct{}
	gcDone     chan struct{}
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards  int           // Number of shards (0 = number of CPUs)
	GCInterval time.Duration // Time between GC runs (0 = use default: 100ms)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.LockDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}

	maple := &mapleImpl{
		seed:       util.GenerateSeed(),
		shards:     newShards(opts.NumShards),
		gcInterval: opts.GCInterval,
	}
	maple.startGC()
	return maple
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shard returns the shard responsible for key
func (maple *mapleImpl) shard(key string) *internal.Shard {
	return maple.shards[util.ShardIndex(key, maple.seed, len(maple.shards))]
}

// --------------------------------------------------------------------------
// Clock
// --------------------------------------------------------------------------

// SetClock safely advances the clock.
// It only updates if the new value is greater than the current one.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetClock(now uint64) {
	maple.advance(now)
}

// advance sets the clock to now if it is greater and returns the resulting clock
func (maple *mapleImpl) advance(now uint64) uint64 {
	for {
		curr := maple.clock.Load()
		if now <= curr {
			return curr
		}
		if maple.clock.CompareAndSwap(curr, now) {
			return now
		}
	}
}

// at returns the clock a read with the given clock is evaluated at
func (maple *mapleImpl) at(now uint64) uint64 {
	return max(now, maple.clock.Load())
}

// Clock returns the current clock of the database
func (maple *mapleImpl) Clock() uint64 {
	return maple.clock.Load()
}

// --------------------------------------------------------------------------
// LockDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Acquire takes or re-enters the lock record of key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Acquire(key, identifier string, leaseMs int64, now uint64) (bool, int64) {
	now = maple.advance(now)
	shard := maple.shard(key)

	var (
		acquired bool
		pttl     int64
	)
	shard.Data.Compute(key, func(old internal.Record, loaded bool) (internal.Record, bool) {
		// an expired record is treated as absent
		if loaded && old.Expired(now) {
			loaded = false
		}

		if loaded && old.Owner != identifier {
			pttl = old.PTTL(now)
			return old, false
		}

		rec := old
		touched := !loaded // expiry changed
		if !loaded {
			rec = internal.Record{Owner: identifier}
		}
		rec.Count++
		if leaseMs > 0 {
			rec.ExpireAt = now + uint64(leaseMs)
			touched = true
		}
		acquired = true
		// the expiry index is updated under the lock of the entry
		if touched {
			shard.Schedule(key, rec.ExpireAt)
		}
		return rec, false
	})

	return acquired, pttl
}

// Release leaves one hold of identifier and deletes the record after the last one.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Release(key, identifier string, now uint64) int64 {
	now = maple.advance(now)
	shard := maple.shard(key)

	var count int64 = -1
	shard.Data.Compute(key, func(old internal.Record, loaded bool) (internal.Record, bool) {
		if !loaded {
			return old, true
		}
		if old.Expired(now) {
			shard.Schedule(key, 0)
			return old, true
		}
		if old.Owner != identifier {
			return old, false
		}

		old.Count--
		if old.Count > 0 {
			count = old.Count
			return old, false
		}
		count = 0
		shard.Schedule(key, 0)
		return old, true
	})

	return count
}

// Delete removes the record of key regardless of its owner.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, now uint64) bool {
	now = maple.advance(now)
	shard := maple.shard(key)

	var deleted bool
	shard.Data.Compute(key, func(old internal.Record, loaded bool) (internal.Record, bool) {
		deleted = loaded && !old.Expired(now)
		if loaded {
			shard.Schedule(key, 0)
		}
		return old, true
	})

	return deleted
}

// Renew sets a new expiry if identifier owns the record.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Renew(key, identifier string, leaseMs int64, now uint64) bool {
	now = maple.advance(now)
	if leaseMs <= 0 {
		return false
	}
	shard := maple.shard(key)

	var renewed bool
	shard.Data.Compute(key, func(old internal.Record, loaded bool) (internal.Record, bool) {
		if !loaded {
			return old, true
		}
		if old.Expired(now) || old.Owner != identifier {
			return old, false
		}
		old.ExpireAt = now + uint64(leaseMs)
		shard.Schedule(key, old.ExpireAt)
		renewed = true
		return old, false
	})

	return renewed
}

// --------------------------------------------------------------------------
// LockDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// load returns the live record of key at the given clock
func (maple *mapleImpl) load(key string, now uint64) (internal.Record, bool) {
	rec, ok := maple.shard(key).Data.Load(key)
	if !ok || rec.Expired(maple.at(now)) {
		return internal.Record{}, false
	}
	return rec, true
}

// Exists returns whether a live record exists for key
func (maple *mapleImpl) Exists(key string, now uint64) bool {
	_, ok := maple.load(key, now)
	return ok
}

// IsMember returns whether identifier owns the record of key
func (maple *mapleImpl) IsMember(key, identifier string, now uint64) bool {
	rec, ok := maple.load(key, now)
	return ok && rec.Owner == identifier
}

// HoldCount returns the count of identifier
func (maple *mapleImpl) HoldCount(key, identifier string, now uint64) (int64, bool) {
	rec, ok := maple.load(key, now)
	if !ok || rec.Owner != identifier {
		return 0, false
	}
	return rec.Count, true
}

// PTTL returns the remaining time to live of the record of key
func (maple *mapleImpl) PTTL(key string, now uint64) int64 {
	rec, ok := maple.load(key, now)
	if !ok {
		return db.PTTLMissing
	}
	return rec.PTTL(maple.at(now))
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts the garbage collector
// if the GC is already running, this function does nothing
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) startGC() {
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop != nil {
		return
	}
	maple.gcStop = make(chan struct{})
	maple.gcDone = make(chan struct{})
	go maple.garbageCollector(maple.gcStop, maple.gcDone)
}

// stopGC stops the garbage collector and waits for it to exit.
// if the GC is not running, this function does nothing.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) stopGC() {
	maple.gcMu.Lock()
	defer maple.gcMu.Unlock()
	if maple.gcStop == nil {
		return
	}
	close(maple.gcStop)
	<-maple.gcDone
	maple.gcStop = nil
	maple.gcDone = nil
}

// garbageCollector is the main garbage collection loop
// WARNING: this method should never be called directly! Use startGC() and stopGC()
func (maple *mapleImpl) garbageCollector(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			maple.collect()
		}
	}
}

// collect removes all records that are expired at the current clock
func (maple *mapleImpl) collect() int {
	/*
		Note: We only get the clock once at the beginning of one gc cycle to ensure that
		we don't end up in an endless loop if the clock is advanced during the cycle.
	*/
	now := maple.clock.Load()
	collected := 0

	for _, shard := range maple.shards {
		for _, key := range shard.Due(now) {
			shard.Data.Compute(key, func(rec internal.Record, loaded bool) (internal.Record, bool) {
				if !loaded {
					return rec, true
				}
				// double-check, the record could have been renewed in the meantime
				if !rec.Expired(now) {
					if rec.ExpireAt != 0 {
						shard.Schedule(key, rec.ExpireAt)
					}
					return rec, false
				}
				collected++
				return rec, true
			})
		}
	}

	if collected > 0 {
		Logger.Debugf("collected %d expired lock records", collected)
	}
	return collected
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer.
// Concurrent operations are allowed during Save, the snapshot is fuzzy.
func (maple *mapleImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	type recordToSave struct {
		key string
		rec internal.Record
	}

	now := maple.clock.Load()
	var records []recordToSave
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, rec internal.Record) bool {
			if !rec.Expired(now) {
				records = append(records, recordToSave{key, rec})
			}
			return true
		})
	}

	// header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, now); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(records))); err != nil {
		return err
	}

	// records
	for _, item := range records {
		if err := writeString(bw, item.key); err != nil {
			return err
		}
		if err := writeString(bw, item.rec.Owner); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.rec.Count); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, item.rec.ExpireAt); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load restores a database from the reader
//
// Thread-safety: This function is not thread-safe and must not be called concurrently
// with any other method.
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.stopGC()
	defer maple.startGC()

	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var clock uint64
	if err := binary.Read(br, binary.LittleEndian, &clock); err != nil {
		return err
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	shards := newShards(len(maple.shards))
	for i := uint64(0); i < count; i++ {
		key, err := readString(br)
		if err != nil {
			return err
		}
		owner, err := readString(br)
		if err != nil {
			return err
		}
		rec := internal.Record{Owner: owner}
		if err := binary.Read(br, binary.LittleEndian, &rec.Count); err != nil {
			return err
		}
		if err := binary.Read(br, binary.LittleEndian, &rec.ExpireAt); err != nil {
			return err
		}

		shard := shards[util.ShardIndex(key, maple.seed, len(shards))]
		shard.Data.Store(key, rec)
		if rec.ExpireAt != 0 {
			shard.Schedule(key, rec.ExpireAt)
		}
	}

	maple.shards = shards
	maple.clock.Store(clock)
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// --------------------------------------------------------------------------
// LockDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	now := maple.clock.Load()

	var (
		records   int
		expired   int
		scheduled int
		sizeBytes int
	)
	shardSizes := make([]int, len(maple.shards))
	for i, shard := range maple.shards {
		shard.Data.Range(func(key string, rec internal.Record) bool {
			records++
			if rec.Expired(now) {
				expired++
			}
			sizeBytes += len(key) + len(rec.Owner) + 16 // count + expireAt
			return true
		})
		shardSizes[i] = shard.Data.Size()
		scheduled += shard.Scheduled()
	}

	meta := &struct {
		Clock             uint64 `json:"clock"`
		ShardCount        int    `json:"shard_count"`
		ShardSizes        []int  `json:"shard_sizes"`
		Records           int    `json:"records"`
		ExpiredBacklog    int    `json:"expired_backlog"`
		ScheduledExpiries int    `json:"scheduled_expiries"`
	}{
		Clock:             now,
		ShardCount:        len(maple.shards),
		ShardSizes:        shardSizes,
		Records:           records,
		ExpiredBacklog:    expired,
		ScheduledExpiries: scheduled,
	}

	return db.DatabaseInfo{
		SizeBytes: sizeBytes,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureAcquire, db.FeatureRelease, db.FeatureDelete, db.FeatureRenew,
			db.FeatureExists, db.FeatureIsMember, db.FeatureHoldCount,
			db.FeatureSave, db.FeatureLoad,
			db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific LockDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureAcquire |
		db.FeatureRelease |
		db.FeatureDelete |
		db.FeatureExists |
		db.FeatureIsMember |
		db.FeatureHoldCount |
		db.FeatureRenew |
		db.FeatureSave |
		db.FeatureLoad |
		db.FeatureGarbageCollect
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}
