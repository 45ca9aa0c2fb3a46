package storegw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/gateway"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/ValentinKolb/dLock/lib/store"
)

const (
	// watchWindow bounds a single Watch call of a subscription
	watchWindow = time.Second
	// maxBurst caps the messages delivered for one sequence jump
	maxBurst = 8
)

// StoreFactory creates the store used by a single subscription
type StoreFactory func() (store.IStore, error)

// Gateway implements lock.IStoreGateway on top of a store.IStore.
//
// The scripts of the lock catalogue are not evaluated but dispatched on their
// digest to the store operation with the same semantics.
type Gateway struct {
	store   store.IStore
	factory StoreFactory
	name    string
}

var _ lock.IStoreGateway = (*Gateway)(nil)

// NewGateway creates a gateway for s. Subscriptions use a store created by
// factory, if factory is nil they share s (this is fine for in-process stores).
func NewGateway(s store.IStore, factory StoreFactory) *Gateway {
	return &Gateway{
		store:   s,
		factory: factory,
		name:    fmt.Sprintf("store(%T)", s),
	}
}

// String returns a short description of the gateway
func (g *Gateway) String() string {
	return g.name
}

// --------------------------------------------------------------------------
// Script Evaluation
// --------------------------------------------------------------------------

// Eval runs the store operation for script. The context is not used since
// store operations are bounded by the store itself.
func (g *Gateway) Eval(_ context.Context, script *lock.Script, key string, args ...string) (string, bool, error) {
	switch script.Digest {
	case lock.ScriptAcquire.Digest:
		if len(args) != 2 {
			return "", false, argError(script, 2, args)
		}
		leaseMs, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", false, fmt.Errorf("storegw: invalid lease %q: %w", args[1], err)
		}
		acquired, pttl, err := g.store.Acquire(key, args[0], leaseMs)
		if err != nil {
			return "", false, err
		}
		if acquired {
			return lock.ResultAcquired, true, nil
		}
		return strconv.FormatInt(pttl, 10), true, nil

	case lock.ScriptRelease.Digest:
		if len(args) != 2 {
			return "", false, argError(script, 2, args)
		}
		count, err := g.store.Release(key, args[0], args[1])
		if err != nil {
			return "", false, err
		}
		return strconv.FormatInt(count, 10), true, nil

	case lock.ScriptDelete.Digest:
		return flag(g.store.Delete(key))

	case lock.ScriptExists.Digest:
		return flag(g.store.Exists(key))

	case lock.ScriptIsMember.Digest:
		if len(args) != 1 {
			return "", false, argError(script, 1, args)
		}
		return flag(g.store.IsMember(key, args[0]))

	case lock.ScriptHoldCount.Digest:
		if len(args) != 1 {
			return "", false, argError(script, 1, args)
		}
		count, ok, err := g.store.HoldCount(key, args[0])
		if err != nil || !ok {
			return "", false, err
		}
		return strconv.FormatInt(count, 10), true, nil

	case lock.ScriptRenew.Digest:
		if len(args) != 2 {
			return "", false, argError(script, 2, args)
		}
		leaseMs, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", false, fmt.Errorf("storegw: invalid lease %q: %w", args[1], err)
		}
		return flag(g.store.Renew(key, args[0], leaseMs))

	default:
		return "", false, fmt.Errorf("storegw: unknown script %s (%s)", script.Name, script.Digest)
	}
}

func flag(b bool, err error) (string, bool, error) {
	if err != nil {
		return "", false, err
	}
	if b {
		return lock.ResultTrue, true, nil
	}
	return lock.ResultFalse, true, nil
}

func argError(script *lock.Script, want int, args []string) error {
	return fmt.Errorf("storegw: script %s takes %d args, got %d", script.Name, want, len(args))
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

// Subscription creates an inactive subscription to channel
func (g *Gateway) Subscription(channel string, onMessage func(payload string)) (lock.ISubscription, error) {
	return &subscription{
		SubscriptionState: gateway.NewSubscriptionState(channel),
		gw:                g,
		payload:           strings.TrimPrefix(channel, lock.ChannelPrefix),
		onMessage:         onMessage,
	}, nil
}

// subscription long-polls the sequence of a channel with store.IStore.Watch
type subscription struct {
	gateway.SubscriptionState
	gw        *Gateway
	payload   string
	onMessage func(string)

	conn store.IStore // created on first Subscribe
}

// connection returns the store of the subscription
func (s *subscription) connection() (store.IStore, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	if s.gw.factory == nil {
		s.conn = s.gw.store
		return s.conn, nil
	}
	conn, err := s.gw.factory()
	if err != nil {
		return nil, fmt.Errorf("storegw: failed to create subscription store: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// Subscribe watches the channel until Unsubscribe is called or the store fails
func (s *subscription) Subscribe() error {
	if s.IsStopped() {
		return nil
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}

	seq, err := conn.Sequence(s.Channel())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.Stopped():
			cancel()
		case <-ctx.Done():
		}
	}()

	s.SetSubscribed(true)
	defer s.SetSubscribed(false)

	for {
		wctx, wcancel := context.WithTimeout(ctx, watchWindow)
		next, err := conn.Watch(wctx, s.Channel(), seq)
		wcancel()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		switch {
		case next > seq:
			for i := uint64(0); i < min(next-seq, maxBurst); i++ {
				s.onMessage(s.payload)
			}
		case next < seq:
			// the store was restarted and lost its sequences
			gateway.Logger.Debugf("sequence of %s went back from %d to %d", s.Channel(), seq, next)
		}
		seq = next
	}
}

// Close unsubscribes and closes a store created by the factory
func (s *subscription) Close() error {
	_ = s.Unsubscribe()
	if s.gw.factory == nil || s.conn == nil {
		return nil
	}
	if c, ok := s.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
