// Package testing provides a standardised test suite for implementations of
// store.IStore.
//
// Example usage:
//
//	storetesting.RunIStoreTests(t, "MyStore", func() store.IStore {
//		return NewMyStore()
//	})
package testing
