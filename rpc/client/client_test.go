package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	gwtesting "github.com/ValentinKolb/dLock/lib/gateway/testing"
	"github.com/ValentinKolb/dLock/lib/gateway/storegw"
	"github.com/ValentinKolb/dLock/lib/store"
	storetesting "github.com/ValentinKolb/dLock/lib/store/testing"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/server"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
	"github.com/stretchr/testify/require"
)

const testShard = 100

// testSetup describes one combination of transport and serializer
type testSetup struct {
	name            string
	network         string // network of the endpoint for the readiness check
	serverTransport func() transport.IRPCServerTransport
	clientTransport func() transport.IRPCClientTransport
	serializer      func() serializer.IRPCSerializer
}

var setups = []testSetup{
	{
		name:            "tcp-binary",
		network:         "tcp",
		serverTransport: tcp.NewTCPServerTransport,
		clientTransport: tcp.NewTCPClientTransport,
		serializer:      serializer.NewBinarySerializer,
	},
	{
		name:            "unix-gob",
		network:         "unix",
		serverTransport: unix.NewUnixServerTransport,
		clientTransport: unix.NewUnixClientTransport,
		serializer:      serializer.NewGOBSerializer,
	},
	{
		name:            "http-json",
		network:         "tcp",
		serverTransport: http.NewHttpServerTransport,
		clientTransport: http.NewHttpClientTransport,
		serializer:      serializer.NewJSONSerializer,
	},
}

// freeEndpoint returns an endpoint nobody listens on
func freeEndpoint(t *testing.T, network string) string {
	t.Helper()
	if network == "unix" {
		dir, err := os.MkdirTemp("", "dlock")
		require.NoError(t, err)
		t.Cleanup(func() { _ = os.RemoveAll(dir) })
		return filepath.Join(dir, "dlock.sock")
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	endpoint := l.Addr().String()
	require.NoError(t, l.Close())
	return endpoint
}

// startServer serves a local store on shard testShard and returns the client config
func startServer(t *testing.T, setup testSetup) common.ClientConfig {
	t.Helper()
	endpoint := freeEndpoint(t, setup.network)

	s := server.NewRPCServer(common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: testShard, Type: common.ShardTypeLocalIStore},
		},
		TimeoutSecond: 5,
		Transport:     common.ServerTransportConfig{Endpoint: endpoint},
		LogLevel:      "error",
	}, setup.serverTransport(), setup.serializer())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()
	t.Cleanup(s.Close)

	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case err := <-errCh:
			t.Fatalf("server stopped: %v", err)
		default:
		}
		conn, err := net.Dial(setup.network, endpoint)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start on %s: %v", endpoint, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	return common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{endpoint},
			RetryCount: 3,
		},
	}
}

func newClientStore(t *testing.T, setup testSetup, config common.ClientConfig, shardId uint64) store.IStore {
	t.Helper()
	s, err := NewRPCStore(shardId, config, setup.clientTransport(), setup.serializer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.(io.Closer).Close() })
	return s
}

func TestRPCStore(t *testing.T) {
	for _, setup := range setups {
		config := startServer(t, setup)
		s := newClientStore(t, setup, config, testShard)

		storetesting.RunIStoreTests(t, setup.name, func() store.IStore {
			return s
		})
	}
}

func TestRPCGateway(t *testing.T) {
	for _, setup := range setups {
		config := startServer(t, setup)

		gwtesting.RunGatewayTests(t, setup.name, func(t *testing.T) gwtesting.Env {
			s := newClientStore(t, setup, config, testShard)
			factory := NewRPCStoreFactory(testShard, config, setup.clientTransport, setup.serializer())
			return gwtesting.Env{
				Gateway: storegw.NewGateway(s, factory),
				Advance: time.Sleep,
			}
		})
	}
}

// TestUnknownShard tests that a request for a shard the server does not serve fails
func TestUnknownShard(t *testing.T) {
	setup := setups[0]
	config := startServer(t, setup)
	s := newClientStore(t, setup, config, testShard+1)

	_, err := s.Exists("lock")
	require.Error(t, err)

	var storeErr *store.Error
	require.True(t, errors.As(err, &storeErr), "expected a store error, got %T", err)
	require.Equal(t, store.RetCInvalidOperation, storeErr.Code)
}

// TestWatchCancel tests that a watch returns once its context is cancelled
// even if the server is still waiting
func TestWatchCancel(t *testing.T) {
	setup := setups[0]
	config := startServer(t, setup)
	s := newClientStore(t, setup, config, testShard)

	start, err := s.Sequence("cancel-channel")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Watch(ctx, "cancel-channel", start)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Watch did not return after cancel")
	}

	// the connection is still usable
	_, err = s.Exists("cancel-lock")
	require.NoError(t, err)
}

func TestClientConnectFails(t *testing.T) {
	config := common.ClientConfig{
		TimeoutSecond: 1,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{freeEndpoint(t, "tcp")},
			RetryCount: 1,
		},
	}
	_, err := NewRPCStore(testShard, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	require.Error(t, err, fmt.Sprintf("expected connect to %v to fail", config.Transport.Endpoints))
}
