package lstore

import (
	"context"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/ValentinKolb/dLock/lib/store"
)

type storeImpl struct {
	db  db.LockDB
	hub *store.Hub
	now func() uint64
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// Lease expiry follows the wall clock.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return newLocalStore(factory, util.NowMillis)
}

// newLocalStore creates a local store with a custom clock (used in tests)
func newLocalStore(factory store.DBFactory, clock func() uint64) *storeImpl {
	return &storeImpl{
		db:  factory(),
		hub: store.NewHub(),
		now: clock,
	}
}

// unsupported returns an error if the db does not support feature
func (s *storeImpl) unsupported(feature db.Feature) error {
	if s.db.SupportsFeature(feature) {
		return nil
	}
	return store.NewError(store.RetCUnsupportedOperation, feature.String()+" operation is not supported")
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Acquire(key, identifier string, leaseMs int64) (bool, int64, error) {
	if err := s.unsupported(db.FeatureAcquire); err != nil {
		return false, 0, err
	}
	acquired, pttl := s.db.Acquire(key, identifier, leaseMs, s.now())
	return acquired, pttl, nil
}

func (s *storeImpl) Release(key, identifier, channel string) (int64, error) {
	if err := s.unsupported(db.FeatureRelease); err != nil {
		return 0, err
	}
	count := s.db.Release(key, identifier, s.now())
	if count == 0 {
		s.hub.Publish(channel)
	}
	return count, nil
}

func (s *storeImpl) Delete(key string) (bool, error) {
	if err := s.unsupported(db.FeatureDelete); err != nil {
		return false, err
	}
	return s.db.Delete(key, s.now()), nil
}

func (s *storeImpl) Exists(key string) (bool, error) {
	if err := s.unsupported(db.FeatureExists); err != nil {
		return false, err
	}
	return s.db.Exists(key, s.now()), nil
}

func (s *storeImpl) IsMember(key, identifier string) (bool, error) {
	if err := s.unsupported(db.FeatureIsMember); err != nil {
		return false, err
	}
	return s.db.IsMember(key, identifier, s.now()), nil
}

func (s *storeImpl) HoldCount(key, identifier string) (int64, bool, error) {
	if err := s.unsupported(db.FeatureHoldCount); err != nil {
		return 0, false, err
	}
	count, ok := s.db.HoldCount(key, identifier, s.now())
	return count, ok, nil
}

func (s *storeImpl) Renew(key, identifier string, leaseMs int64) (bool, error) {
	if err := s.unsupported(db.FeatureRenew); err != nil {
		return false, err
	}
	return s.db.Renew(key, identifier, leaseMs, s.now()), nil
}

func (s *storeImpl) Sequence(channel string) (uint64, error) {
	return s.hub.Sequence(channel), nil
}

func (s *storeImpl) Watch(ctx context.Context, channel string, after uint64) (uint64, error) {
	return s.hub.Watch(ctx, channel, after)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}
