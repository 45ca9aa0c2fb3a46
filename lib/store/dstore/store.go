package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the distributed store.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	hub     *store.Hub
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes. Release messages are delivered through the hub of the shard on this node host, so hubs must
// be the same value that was passed to CreateStateMachineFactory.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration, hubs *Hubs) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
		hub:     hubs.For(shardID),
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write sends a Command via SyncPropose and decodes the result.
// It returns a *store.Error if an error occurs.
func (s *storeImpl) write(cmd internal.Command) (bool, int64, error) {
	cmd.Now = util.NowMillis()
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return false, 0, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return false, 0, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		ok, n, err := internal.DecodeResult(res.Data)
		if err != nil {
			return false, 0, store.NewError(store.RetCInternalError, err.Error())
		}
		return ok, n, nil
	}
	return false, 0, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
//
// It returns the response of type R and an error (nil on success).
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	q.Now = util.NowMillis()
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Acquire(key, identifier string, leaseMs int64) (bool, int64, error) {
	return s.write(internal.Command{
		Type:       internal.CommandTAcquire,
		Key:        key,
		Identifier: identifier,
		LeaseMs:    leaseMs,
	})
}

func (s *storeImpl) Release(key, identifier, channel string) (int64, error) {
	_, count, err := s.write(internal.Command{
		Type:       internal.CommandTRelease,
		Key:        key,
		Identifier: identifier,
		Channel:    channel,
	})
	return count, err
}

func (s *storeImpl) Delete(key string) (bool, error) {
	deleted, _, err := s.write(internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
	})
	return deleted, err
}

func (s *storeImpl) Renew(key, identifier string, leaseMs int64) (bool, error) {
	renewed, _, err := s.write(internal.Command{
		Type:       internal.CommandTRenew,
		Key:        key,
		Identifier: identifier,
		LeaseMs:    leaseMs,
	})
	return renewed, err
}

func (s *storeImpl) Exists(key string) (bool, error) {
	return read[bool](s, internal.Query{
		Type: internal.QueryTExists,
		Key:  key,
	}, false)
}

func (s *storeImpl) IsMember(key, identifier string) (bool, error) {
	return read[bool](s, internal.Query{
		Type:       internal.QueryTIsMember,
		Key:        key,
		Identifier: identifier,
	}, false)
}

func (s *storeImpl) HoldCount(key, identifier string) (int64, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type:       internal.QueryTHoldCount,
		Key:        key,
		Identifier: identifier,
	}, false)
	if err != nil {
		return 0, false, err
	}
	return res.Count, res.Ok, nil
}

func (s *storeImpl) Sequence(channel string) (uint64, error) {
	return s.hub.Sequence(channel), nil
}

func (s *storeImpl) Watch(ctx context.Context, channel string, after uint64) (uint64, error) {
	return s.hub.Watch(ctx, channel, after)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}
