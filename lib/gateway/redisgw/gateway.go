package redisgw

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/gateway"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/redis/go-redis/v9"
)

// subscribeTimeout bounds the wait for the subscribe confirmation
const subscribeTimeout = 5 * time.Second

// Gateway implements lock.IStoreGateway for Redis with go-redis.
// Scripts run with EVALSHA and fall back to EVAL if Redis does not know them yet.
type Gateway struct {
	client  redis.UniversalClient
	scripts map[string]*redis.Script // by digest
}

var _ lock.IStoreGateway = (*Gateway)(nil)

// NewGateway creates a gateway for client
func NewGateway(client redis.UniversalClient) *Gateway {
	scripts := make(map[string]*redis.Script)
	for _, s := range lock.Scripts() {
		scripts[s.Digest] = redis.NewScript(s.Body)
	}
	return &Gateway{
		client:  client,
		scripts: scripts,
	}
}

// String returns a short description of the gateway
func (g *Gateway) String() string {
	return "go-redis"
}

// Preload loads all scripts of the catalogue into the Redis script cache
func (g *Gateway) Preload(ctx context.Context) error {
	for _, s := range lock.Scripts() {
		if err := g.scripts[s.Digest].Load(ctx, g.client).Err(); err != nil {
			return fmt.Errorf("redisgw: failed to load script %s: %w", s.Name, err)
		}
	}
	return nil
}

// Eval runs script against key
func (g *Gateway) Eval(ctx context.Context, script *lock.Script, key string, args ...string) (string, bool, error) {
	rs, ok := g.scripts[script.Digest]
	if !ok {
		rs = redis.NewScript(script.Body)
	}

	argv := make([]interface{}, len(args))
	for i, a := range args {
		argv[i] = a
	}

	res, err := rs.Run(ctx, g.client, []string{key}, argv...).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return res, true, nil
}

// --------------------------------------------------------------------------
// Subscriptions
// --------------------------------------------------------------------------

// Subscription creates an inactive subscription to channel. Every Subscribe
// call uses a PubSub (and with it a connection) of its own.
func (g *Gateway) Subscription(channel string, onMessage func(payload string)) (lock.ISubscription, error) {
	return &subscription{
		SubscriptionState: gateway.NewSubscriptionState(channel),
		client:            g.client,
		onMessage:         onMessage,
	}, nil
}

type subscription struct {
	gateway.SubscriptionState
	client    redis.UniversalClient
	onMessage func(string)
}

// Subscribe subscribes and delivers messages until Unsubscribe is called or the PubSub is closed
func (s *subscription) Subscribe() error {
	if s.IsStopped() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	ps := s.client.Subscribe(ctx, s.Channel())
	defer ps.Close()

	// wait for the confirmation of the subscription
	if _, err := ps.ReceiveTimeout(ctx, subscribeTimeout); err != nil {
		return fmt.Errorf("redisgw: subscribe to %s failed: %w", s.Channel(), err)
	}

	s.SetSubscribed(true)
	defer s.SetSubscribed(false)

	messages := ps.Channel()
	for {
		select {
		case <-s.Stopped():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redisgw: subscription to %s closed", s.Channel())
			}
			s.onMessage(msg.Payload)
		}
	}
}

// Close unsubscribes, the PubSub is closed when Subscribe returns
func (s *subscription) Close() error {
	return s.Unsubscribe()
}
