package metrics

import (
	"net/http"
	"time"

	"acceptor/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はコネクタの接続処理を Prometheus と Metrics の両方に記録する
//
// nil の Collector に対する記録メソッドは何もしない。
type Collector struct {
	namespace string
	registry  *prometheus.Registry
	window    *Metrics

	accepted prometheus.Counter
	rejected prometheus.Counter
	handled  prometheus.Counter
	failed   prometheus.Counter
	latency  prometheus.Histogram
}

// NewCollector は専用レジストリ上にコレクタを作成する
func NewCollector(namespace string) *Collector {
	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		window:    New(),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "connections_rejected_total",
			Help:      "Total number of connections closed because the pool rejected them",
		}),
		handled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "connections_handled_total",
			Help:      "Total number of connections handled without a handler failure",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "connections_failed_total",
			Help:      "Total number of connections whose handler panicked",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "connection_duration_seconds",
			Help:      "Time from dispatch to connection close",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	c.registry.MustRegister(c.accepted, c.rejected, c.handled, c.failed, c.latency)
	return c
}

// ObservePool はプールの状態を GaugeFunc として登録する
func (c *Collector) ObservePool(stats func() worker.Stats) error {
	gauges := []struct {
		name  string
		help  string
		value func(worker.Stats) float64
	}{
		{"live_workers", "Current number of live workers", func(s worker.Stats) float64 { return float64(s.LiveWorkers) }},
		{"idle_workers", "Current number of idle workers", func(s worker.Stats) float64 { return float64(s.IdleWorkers) }},
		{"queued_jobs", "Current number of queued connections", func(s worker.Stats) float64 { return float64(s.Queued) }},
		{"largest_pool_size", "Highest number of live workers seen", func(s worker.Stats) float64 { return float64(s.LargestPoolSize) }},
	}

	for _, g := range gauges {
		value := g.value
		gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "pool",
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return value(stats()) })
		if err := c.registry.Register(gf); err != nil {
			return err
		}
	}
	return nil
}

// ConnectionAccepted は受け付けた接続を記録する
func (c *Collector) ConnectionAccepted() {
	if c == nil {
		return
	}
	c.accepted.Inc()
}

// ConnectionRejected はプールに拒否された接続を記録する
func (c *Collector) ConnectionRejected() {
	if c == nil {
		return
	}
	c.rejected.Inc()
}

// ConnectionHandled は正常に処理された接続を記録する
func (c *Collector) ConnectionHandled(d time.Duration) {
	if c == nil {
		return
	}
	c.handled.Inc()
	c.latency.Observe(d.Seconds())
	c.window.RecordSuccess(d)
}

// ConnectionFailed はハンドラが失敗した接続を記録する
func (c *Collector) ConnectionFailed(d time.Duration) {
	if c == nil {
		return
	}
	c.failed.Inc()
	c.latency.Observe(d.Seconds())
	c.window.RecordFailure(d)
}

// Window は P99 などを計算する Metrics を返す
func (c *Collector) Window() *Metrics {
	return c.window
}

// Registry は専用レジストリを返す
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler は /metrics 用の HTTP ハンドラを返す
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
