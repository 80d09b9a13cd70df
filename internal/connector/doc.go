// Package connector accepts TCP connections and hands each one to a worker
// of an elastic pool.
//
// A Connector owns exactly one listener and one worker.Pool. The pool is
// sized by CorePoolSize, MaxThreads and KeepAlive; AcceptCount is both the
// kernel accept backlog (on Linux) and the capacity of the pool's queue.
//
// # Basic Usage
//
//	c, err := connector.New(connector.Config{
//	    Port:         8081,
//	    AcceptCount:  100,
//	    CorePoolSize: 0,
//	    MaxThreads:   5,
//	    KeepAlive:    60 * time.Second,
//	}, connector.HandlerFunc(func(conn net.Conn) {
//	    // read the request, write the response
//	}))
//	if err != nil {
//	    return err
//	}
//	if err := c.Start(); err != nil {
//	    return err // errors.Is(err, connector.ErrBind)
//	}
//	defer c.Stop()
//
// # Accept Loop
//
// A single goroutine accepts connections, tags each with a UUID and submits
// it to the pool. A connection the pool rejects is closed immediately.
// Transient accept errors are logged and retried with a backoff from 5ms up
// to 1s. The connector always closes the connection after the handler
// returns, and a panicking handler only affects its own connection.
//
// # Lifecycle
//
// Start binds and begins accepting; calling it twice returns
// ErrAlreadyStarted and calling it after Stop returns ErrStopped. Stop closes
// the listener, waits for the accept loop to exit and then shuts the pool
// down, blocking until in-flight connections finish. Stop is idempotent.
package connector
