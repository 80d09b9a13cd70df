// Package client provides a load generator for exercising the connector.
//
// The Client opens a number of TCP connections, optionally sends a request
// on each, and keeps them open for a while. It is used by the bench mode of
// the acceptor binary and to drive the connector in tests.
//
// # Basic Usage
//
//	config := client.DefaultConfig()
//	config.Addr = "127.0.0.1:8081"
//	config.Connections = 6
//	config.Hold = 2 * time.Second
//	cl := client.New(config)
//
//	snap, err := cl.Run(ctx)
//	fmt.Printf("ok: %d, failed: %d, p99: %v\n",
//	    snap.SuccessRequests, snap.FailedRequests, snap.P99Latency)
//
// # Configuration
//
// The Config struct allows tuning:
//   - Connections: total connections to open
//   - Concurrency: connections open at the same time (0 = all at once)
//   - Hold: how long each connection stays open
//   - Request: bytes written after connecting; the response is read until EOF
package client
