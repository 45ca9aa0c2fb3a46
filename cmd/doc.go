// Package cmd implements the command-line interface of dLock. It provides a
// hierarchical command structure with operations for running the server and
// for working with locks as a client.
//
// The package is organized into several subpackages:
//
//   - lock: Commands for lock operations (acquire, release, status,
//     force-unlock, renew) and the perf benchmark. The locks can live on a
//     dLock server or in Redis (--backend).
//   - serve: Commands for starting and configuring the dLock server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set with an environment variable DLOCK_<FLAG> (dashes
// become underscores), and .env and .env.local files are loaded.
//
// See dlock --help for a list of all commands.
package cmd
