package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Hubs
// --------------------------------------------------------------------------

// Hubs holds the pub/sub hub of every shard of a node host. The state machine
// of a shard publishes on its hub when a lock is freed and the distributed
// store of the same shard serves Watch and Sequence from it.
type Hubs struct {
	hubs *xsync.MapOf[uint64, *store.Hub]
}

// NewHubs creates an empty set of hubs
func NewHubs() *Hubs {
	return &Hubs{hubs: xsync.NewMapOf[uint64, *store.Hub]()}
}

// For returns the hub of shardID, it is created on first use
func (h *Hubs) For(shardID uint64) *store.Hub {
	hub, _ := h.hubs.LoadOrCompute(shardID, store.NewHub)
	return hub
}

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// LockStateMachine is a state machine implementation for Dragonboat RAFT
type LockStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.LockDB // the actual dataStorage
	hub       *store.Hub
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory
func CreateStateMachineFactory(dbFactory store.DBFactory, hubs *Hubs) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &LockStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
			hub:       hubs.For(shardID),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding LockDB method.
func (fsm *LockStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	// Handle different Query types
	switch q.Type {
	case internal.QueryTExists:
		if !fsm.database.SupportsFeature(db.FeatureExists) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Exists operation is not supported")
		}
		return fsm.database.Exists(q.Key, q.Now), nil
	case internal.QueryTIsMember:
		if !fsm.database.SupportsFeature(db.FeatureIsMember) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "IsMember operation is not supported")
		}
		return fsm.database.IsMember(q.Key, q.Identifier, q.Now), nil
	case internal.QueryTHoldCount:
		if !fsm.database.SupportsFeature(db.FeatureHoldCount) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "HoldCount operation is not supported")
		}
		count, ok := fsm.database.HoldCount(q.Key, q.Identifier, q.Now)
		return internal.QueryResult{
			Ok:    ok,
			Count: count,
		}, nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update handles write commands on the LockDB instance
// All write operations are serialized into []byte and are accessible via the entries struct.
// Every command carries the clock of its proposer, so all replicas evaluate lease expiry identically.
func (fsm *LockStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e.Cmd)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms:", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply executes a single serialized command
func (fsm *LockStateMachine) apply(data []byte) sm.Result {
	if len(data) == 0 {
		return sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
	}

	// Deserialize the command
	cmd := internal.Command{}
	if err := cmd.Deserialize(data); err != nil {
		return sm.Result{
			Value: uint64(store.RetCInternalError),
			Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
		}
	}

	// Check if the db supports the operation
	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		return sm.Result{
			Value: uint64(store.RetCInvalidOperation),
			Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
		}
	}
	if !fsm.database.SupportsFeature(feat) {
		return sm.Result{
			Value: uint64(store.RetCUnsupportedOperation),
			Data:  []byte(fmt.Sprintf("%s operation is not supported", cmd.Type)),
		}
	}

	switch cmd.Type {
	case internal.CommandTAcquire:
		acquired, pttl := fsm.database.Acquire(cmd.Key, cmd.Identifier, cmd.LeaseMs, cmd.Now)
		return success(acquired, pttl)
	case internal.CommandTRelease:
		count := fsm.database.Release(cmd.Key, cmd.Identifier, cmd.Now)
		if count == 0 {
			fsm.hub.Publish(cmd.Channel)
		}
		return success(count >= 0, count)
	case internal.CommandTDelete:
		return success(fsm.database.Delete(cmd.Key, cmd.Now), 0)
	case internal.CommandTRenew:
		return success(fsm.database.Renew(cmd.Key, cmd.Identifier, cmd.LeaseMs, cmd.Now), 0)
	default:
		return sm.Result{
			Value: uint64(store.RetCInvalidOperation),
			Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
		}
	}
}

func success(ok bool, n int64) sm.Result {
	return sm.Result{Value: uint64(store.RetCSuccess), Data: internal.EncodeResult(ok, n)}
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *LockStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *LockStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used LockDB implementation does not support Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot restores the db from a snapshot
func (fsm *LockStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used LockDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *LockStateMachine) Close() error {
	return fsm.database.Close()
}
