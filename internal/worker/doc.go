// Package worker provides an elastic goroutine pool for connection handling.
//
// A Pool keeps between CoreSize and MaxSize worker goroutines. Workers are
// created on demand; workers above CoreSize exit on their own once they have
// been idle for KeepAlive. Work that cannot be handed to a worker waits in a
// bounded FIFO queue of QueueCapacity entries.
//
// # Basic Usage
//
//	pool, err := worker.New(worker.Config{
//	    CoreSize:      0,
//	    MaxSize:       5,
//	    KeepAlive:     60 * time.Second,
//	    QueueCapacity: 100,
//	})
//	if err != nil {
//	    return err // *worker.ConfigError
//	}
//	defer pool.Shutdown()
//
//	if err := pool.Submit(func() { handle(conn) }); errors.Is(err, worker.ErrRejected) {
//	    conn.Close()
//	}
//
// # Growth Policy
//
// Submit decides, in order:
//   - fewer than CoreSize workers: start a new worker for the job
//   - a worker is idle: hand the job to it
//   - fewer than MaxSize workers: start a new worker for the job
//   - the queue has room: enqueue the job
//   - otherwise: fail with ErrRejected
//
// With CoreSize 0 a burst of up to MaxSize concurrent jobs therefore gets
// dedicated workers before anything is queued.
//
// # Idle Reclamation
//
// Each worker waits for its next job with a timer of KeepAlive while the pool
// is above CoreSize. There is no central sweeper. KeepAlive <= 0 keeps every
// worker until shutdown.
//
// # Graceful Shutdown
//
// Shutdown rejects new jobs, lets workers drain the queue and waits for every
// in-flight job. ShutdownNow returns the queued jobs instead of running them.
// A panicking job is recovered and counted; the worker keeps running.
package worker
