package lock

import (
	"io"

	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/spf13/cobra"
)

var (
	gateway       lock.IStoreGateway
	gatewayCloser io.Closer

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		Long:               "Perform lock operations against a dLock server (--backend rpc) or a redis server (--backend redis or rueidis).",
		PersistentPreRunE:  setupGateway,
		PersistentPostRunE: closeGateway,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add the backend and RPC flags to the lock command
	util.SetupGatewayFlags(LockCommands)

	// Add subcommands
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(statusCmd)
	LockCommands.AddCommand(forceUnlockCmd)
	LockCommands.AddCommand(renewCmd)
	LockCommands.AddCommand(perfTestCmd)
}

// setupGateway connects to the configured backend
func setupGateway(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	gateway, gatewayCloser, err = util.GetGateway()
	return err
}

// closeGateway releases the clients of the gateway
func closeGateway(_ *cobra.Command, _ []string) error {
	if gatewayCloser == nil {
		return nil
	}
	return gatewayCloser.Close()
}
