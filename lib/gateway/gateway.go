package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("gateway")

// SubscriptionState is the state shared by the lock.ISubscription
// implementations of the gateways. It is meant to be embedded and provides
// Channel, IsSubscribed and Unsubscribe.
//
// Unsubscribe is permanent: once called, Stopped is closed and every
// following Subscribe call of the embedding type must return at once.
type SubscriptionState struct {
	channel    string
	subscribed atomic.Bool
	stopOnce   sync.Once
	stop       chan struct{}
}

// NewSubscriptionState creates the state for a subscription to channel
func NewSubscriptionState(channel string) SubscriptionState {
	return SubscriptionState{
		channel: channel,
		stop:    make(chan struct{}),
	}
}

// Channel returns the subscribed channel
func (s *SubscriptionState) Channel() string {
	return s.channel
}

// IsSubscribed returns whether the subscription is currently established
func (s *SubscriptionState) IsSubscribed() bool {
	return s.subscribed.Load()
}

// SetSubscribed marks the subscription as established or not
func (s *SubscriptionState) SetSubscribed(subscribed bool) {
	s.subscribed.Store(subscribed)
}

// Unsubscribe ends a blocking Subscribe call of the embedding type
func (s *SubscriptionState) Unsubscribe() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}

// Stopped is closed once Unsubscribe was called
func (s *SubscriptionState) Stopped() <-chan struct{} {
	return s.stop
}

// IsStopped returns whether Unsubscribe was called
func (s *SubscriptionState) IsStopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
