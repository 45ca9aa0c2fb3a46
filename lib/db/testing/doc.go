// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.LockDB interface.
//
// The package contains:
//   - testing: A test suite for validating conformance to the LockDB interface contract
//   - benchmark: Performance tests for the common lock operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.LockDB {
//		return NewMyDatabase()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunLockDBTests(t, "MyDatabase", factory)
//
//	// Running performance benchmarks
//	dbtesting.RunLockDBBenchmarks(b, "MyDatabase", factory)
package testing
