// Package metrics provides connection metrics collection and reporting.
//
// Metrics collects statistics about latency, success/failure rates and
// throughput (RPS) using atomic counters and a bounded latency sample for P99.
// Collector wraps a Metrics window together with Prometheus collectors on a
// private registry and is what the connector records into.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	start := time.Now()
//	// ... do work ...
//	m.RecordSuccess(time.Since(start))
//
//	fmt.Printf("Total: %d, RPS: %.2f, P99: %v\n",
//	    m.TotalRequests(), m.RPS(), m.P99Latency())
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	m := metrics.NewWithConfig(metrics.Config{
//	    MaxLatencySamples: 5000, // More samples for P99 accuracy
//	})
//
// Once the sample is full, new latencies overwrite the oldest ones.
//
// # Prometheus
//
//	c := metrics.NewCollector("acceptor")
//	_ = c.ObservePool(pool.Stats)
//	http.Handle("/metrics", c.Handler())
//
// # Thread Safety
//
// All operations are safe for concurrent access.
package metrics
