package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
)

// maxWatchWindow bounds a single watch request. A Watch call with a longer
// deadline sends several requests.
const maxWatchWindow = time.Second

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters.
// The returned store also implements io.Closer, Close closes the transport.
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// NewRPCStoreFactory returns a function creating RPC stores with their own
// transport. It fits storegw.StoreFactory, so every lock subscription waits
// on a dedicated connection.
func NewRPCStoreFactory(
	shardId uint64,
	config common.ClientConfig,
	newTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) func() (store.IStore, error) {
	return func() (store.IStore, error) {
		return NewRPCStore(shardId, config, newTransport(), serializer)
	}
}

type rpcStore struct {
	rpcClientAdapter
}

// Close closes the transport of the store
func (i *rpcStore) Close() error {
	return i.transport.Close()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Acquire(key, identifier string, leaseMs int64) (bool, int64, error) {
	resp, err := i.invoke(common.NewAcquireRequest(key, identifier, leaseMs))
	if err != nil {
		return false, 0, err
	}
	return resp.Ok, resp.Num, nil
}

func (i *rpcStore) Release(key, identifier, channel string) (int64, error) {
	resp, err := i.invoke(common.NewReleaseRequest(key, identifier, channel))
	if err != nil {
		return 0, err
	}
	return resp.Num, nil
}

func (i *rpcStore) Delete(key string) (bool, error) {
	resp, err := i.invoke(common.NewDeleteRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Exists(key string) (bool, error) {
	resp, err := i.invoke(common.NewExistsRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) IsMember(key, identifier string) (bool, error) {
	resp, err := i.invoke(common.NewIsMemberRequest(key, identifier))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) HoldCount(key, identifier string) (int64, bool, error) {
	resp, err := i.invoke(common.NewHoldCountRequest(key, identifier))
	if err != nil {
		return 0, false, err
	}
	return resp.Num, resp.Ok, nil
}

func (i *rpcStore) Renew(key, identifier string, leaseMs int64) (bool, error) {
	resp, err := i.invoke(common.NewRenewRequest(key, identifier, leaseMs))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Sequence(channel string) (uint64, error) {
	resp, err := i.invoke(common.NewSequenceRequest(channel))
	if err != nil {
		return 0, err
	}
	return resp.Seq, nil
}

// Watch long-polls the server in windows of at most maxWatchWindow. A request
// in flight when ctx ends is abandoned, its response is dropped.
func (i *rpcStore) Watch(ctx context.Context, channel string, after uint64) (uint64, error) {
	seq := after
	for {
		if err := ctx.Err(); err != nil {
			return seq, err
		}

		window := i.watchWindow(ctx)
		type result struct {
			resp *common.Message
			err  error
		}
		done := make(chan result, 1)
		go func() {
			resp, err := i.invoke(common.NewWatchRequest(channel, after, window.Milliseconds()))
			done <- result{resp, err}
		}()

		select {
		case <-ctx.Done():
			return seq, ctx.Err()
		case r := <-done:
			if r.err != nil {
				return seq, r.err
			}
			seq = r.resp.Seq
			if r.resp.Ok {
				return seq, nil
			}
		}
	}
}

// watchWindow returns the server side wait of the next watch request
func (i *rpcStore) watchWindow(ctx context.Context) time.Duration {
	window := maxWatchWindow
	// stay below the request timeout of the transport
	if timeout := time.Duration(i.config.TimeoutSecond) * time.Second / 2; timeout > 0 && timeout < window {
		window = timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < window {
			window = remaining
		}
	}
	return max(window, time.Millisecond)
}

func (i *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	resp, err := i.invoke(common.NewDBInfoRequest())
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	var info db.DatabaseInfo
	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return db.DatabaseInfo{}, fmt.Errorf("rpc: failed to decode db info: %w", err)
	}
	return info, nil
}
