package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// maxWatchTimeout caps the wait of a single watch request
const maxWatchTimeout = 30 * time.Second

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, s store.IStore) *common.Message {
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTLCKAcquire:
		acquired, pttl, err := s.Acquire(req.Key, req.Identifier, req.LeaseMs)
		return common.NewAcquireResponse(acquired, pttl, err)
	case common.MsgTLCKRelease:
		count, err := s.Release(req.Key, req.Identifier, req.Channel)
		return common.NewReleaseResponse(count, err)
	case common.MsgTLCKDelete:
		deleted, err := s.Delete(req.Key)
		return common.NewDeleteResponse(deleted, err)
	case common.MsgTLCKExists:
		ok, err := s.Exists(req.Key)
		return common.NewExistsResponse(ok, err)
	case common.MsgTLCKIsMember:
		ok, err := s.IsMember(req.Key, req.Identifier)
		return common.NewIsMemberResponse(ok, err)
	case common.MsgTLCKHoldCount:
		count, ok, err := s.HoldCount(req.Key, req.Identifier)
		return common.NewHoldCountResponse(count, ok, err)
	case common.MsgTLCKRenew:
		renewed, err := s.Renew(req.Key, req.Identifier, req.LeaseMs)
		return common.NewRenewResponse(renewed, err)
	case common.MsgTPubSeq:
		seq, err := s.Sequence(req.Channel)
		return common.NewSequenceResponse(seq, err)
	case common.MsgTPubWatch:
		return adapter.watch(req, s)
	case common.MsgTDBInfo:
		info, err := s.GetDBInfo()
		if err != nil {
			return common.NewDBInfoResponse(nil, err)
		}
		raw, err := json.Marshal(info)
		return common.NewDBInfoResponse(raw, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// watch waits at most req.TimeoutMs for the sequence of req.Channel to pass req.Seq
func (adapter *iStoreServerAdapterImpl) watch(req *common.Message, s store.IStore) *common.Message {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 || timeout > maxWatchTimeout {
		timeout = maxWatchTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	seq, err := s.Watch(ctx, req.Channel, req.Seq)
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewWatchResponse(seq, false, nil)
	}
	return common.NewWatchResponse(seq, err == nil, err)
}
