// Package storegw implements lock.IStoreGateway on top of a store.IStore.
//
// The lock scripts are dispatched on their digest to the store operations
// with the same semantics, so any store works as a lock backend without a
// Lua interpreter. Subscriptions long-poll the pub/sub sequence of the store
// (IStore.Watch) in windows of one second. A sequence jump delivers one
// message per step, capped at 8.
//
// For remote stores every subscription should get a store of its own (see
// StoreFactory), otherwise a long-poll blocks the connection of the lock.
package storegw
