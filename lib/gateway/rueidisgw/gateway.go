package rueidisgw

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/gateway"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/redis/rueidis"
)

// subscribeTimeout bounds the SUBSCRIBE command
const subscribeTimeout = 5 * time.Second

// Gateway implements lock.IStoreGateway for Redis with rueidis.
// Scripts run with EVALSHA and fall back to EVAL if Redis does not know them yet.
type Gateway struct {
	client  rueidis.Client
	scripts map[string]*rueidis.Lua // by digest
}

var _ lock.IStoreGateway = (*Gateway)(nil)

// NewGateway creates a gateway for client
func NewGateway(client rueidis.Client) *Gateway {
	scripts := make(map[string]*rueidis.Lua)
	for _, s := range lock.Scripts() {
		scripts[s.Digest] = rueidis.NewLuaScript(s.Body)
	}
	return &Gateway{
		client:  client,
		scripts: scripts,
	}
}

// NewClient creates a rueidis client for the given addresses. Client side
// caching is disabled since all lock operations are scripts.
func NewClient(addresses ...string) (rueidis.Client, error) {
	return rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  addresses,
		DisableCache: true,
	})
}

// String returns a short description of the gateway
func (g *Gateway) String() string {
	return "rueidis"
}

// Eval runs script against key
func (g *Gateway) Eval(ctx context.Context, script *lock.Script, key string, args ...string) (string, bool, error) {
	lua, ok := g.scripts[script.Digest]
	if !ok {
		lua = rueidis.NewLuaScript(script.Body)
	}

	res, err := lua.Exec(ctx, g.client, []string{key}, args).ToString()
	if rueidis.IsRedisNil(err) {
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
// call uses a dedicated connection of its own.
func (g *Gateway) Subscription(channel string, onMessage func(payload string)) (lock.ISubscription, error) {
	return &subscription{
		SubscriptionState: gateway.NewSubscriptionState(channel),
		client:            g.client,
		onMessage:         onMessage,
	}, nil
}

type subscription struct {
	gateway.SubscriptionState
	client    rueidis.Client
	onMessage func(string)
}

// Subscribe subscribes on a dedicated connection and delivers messages until
// Unsubscribe is called or the connection fails
func (s *subscription) Subscribe() error {
	if s.IsStopped() {
		return nil
	}

	conn, release := s.client.Dedicate()
	defer release()

	wait := conn.SetPubSubHooks(rueidis.PubSubHooks{
		OnMessage: func(m rueidis.PubSubMessage) {
			s.onMessage(m.Message)
		},
		OnSubscription: func(sub rueidis.PubSubSubscription) {
			switch sub.Kind {
			case "subscribe":
				s.SetSubscribed(true)
			case "unsubscribe":
				s.SetSubscribed(false)
			}
		},
	})
	defer s.SetSubscribed(false)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	err := conn.Do(ctx, conn.B().Subscribe().Channel(s.Channel()).Build()).Error()
	cancel()
	if err != nil {
		return fmt.Errorf("rueidisgw: subscribe to %s failed: %w", s.Channel(), err)
	}

	select {
	case <-s.Stopped():
		return nil
	case err := <-wait:
		if err == nil {
			return fmt.Errorf("rueidisgw: subscription to %s closed", s.Channel())
		}
		return err
	}
}

// Close unsubscribes, the dedicated connection is released when Subscribe returns
func (s *subscription) Close() error {
	return s.Unsubscribe()
}
