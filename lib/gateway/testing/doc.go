// Package testing provides a standardised test suite for implementations of
// lock.IStoreGateway.
//
// Example usage:
//
//	gwtesting.RunGatewayTests(t, "MyGateway", func(t *testing.T) gwtesting.Env {
//		return gwtesting.Env{Gateway: NewMyGateway(), Advance: time.Sleep}
//	})
package testing
