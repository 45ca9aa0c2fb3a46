package util

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/dLock/lib/gateway/redisgw"
	"github.com/ValentinKolb/dLock/lib/gateway/rueidisgw"
	"github.com/ValentinKolb/dLock/lib/gateway/storegw"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (DLOCK_<flag>)
	EnvPrefix = "dlock"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and makes viper read DLOCK_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// RPC client configuration
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the dLock server. For transports that support load balancing, multiple endpoints can be specified as a comma-separated list"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint - for transports that support this feature"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try a request that could not be sent"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB, ignored for http)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for tcp, 0 keeps the os default)"))

	key = "shard"
	cmd.PersistentFlags().Int(key, 100, WrapString("ID of the shard to connect to"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetTransportFactory returns a constructor for the configured client transport
func GetTransportFactory() (func() transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport, nil
	case "tcp":
		return tcp.NewTCPClientTransport, nil
	case "unix":
		return unix.NewUnixClientTransport, nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// --------------------------------------------------------------------------
// Lock gateway
// --------------------------------------------------------------------------

// SetupGatewayFlags adds the flags selecting the lock backend to a command
func SetupGatewayFlags(cmd *cobra.Command) {
	key := "backend"
	cmd.PersistentFlags().String(key, "rpc", WrapString("The store the locks live in (rpc, redis, rueidis)"))

	key = "redis-addr"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("The address of the redis server (only for the redis and rueidis backends)"))

	SetupRPCClientFlags(cmd)
}

// GetGateway creates the lock gateway of the configured backend. The returned
// closer releases the clients of the gateway.
func GetGateway() (lock.IStoreGateway, io.Closer, error) {
	switch backend := viper.GetString("backend"); backend {
	case "rpc":
		return newRPCGateway()

	case "redis":
		c := redis.NewClient(&redis.Options{Addr: viper.GetString("redis-addr")})
		gw := redisgw.NewGateway(c)
		if err := gw.Preload(context.Background()); err != nil {
			_ = c.Close()
			return nil, nil, err
		}
		return gw, c, nil

	case "rueidis":
		c, err := rueidisgw.NewClient(strings.Split(viper.GetString("redis-addr"), ",")...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rueidis client: %w", err)
		}
		return rueidisgw.NewGateway(c), closerFunc(func() error { c.Close(); return nil }), nil

	default:
		return nil, nil, fmt.Errorf("invalid backend %s (expected one of: rpc, redis, rueidis)", backend)
	}
}

// newRPCGateway connects to a dLock server. Subscriptions get a transport of their own.
func newRPCGateway() (lock.IStoreGateway, io.Closer, error) {
	config := GetClientConfig()
	shardId := GetShardID()

	s, err := GetSerializer()
	if err != nil {
		return nil, nil, err
	}
	newTransport, err := GetTransportFactory()
	if err != nil {
		return nil, nil, err
	}

	rpcStore, err := client.NewRPCStore(shardId, *config, newTransport(), s)
	if err != nil {
		return nil, nil, err
	}

	factory := client.NewRPCStoreFactory(shardId, *config, newTransport, s)
	return storegw.NewGateway(rpcStore, factory), rpcStore.(io.Closer), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
