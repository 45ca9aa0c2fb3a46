package server

import (
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request against store and returns a response.
	// If an error occurs, it is set in the response.
	Handle(req *common.Message, store store.IStore) (resp *common.Message)
}
