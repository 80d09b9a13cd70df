package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int // P99 計算に使うサンプル数の上限
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{MaxLatencySamples: 1000}
}

// Metrics は処理結果のメトリクスを収集する
type Metrics struct {
	totalRequests   atomic.Uint64
	successRequests atomic.Uint64
	failedRequests  atomic.Uint64
	totalLatencyNs  atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	lastResetTime     time.Time
	windowRequests    uint64
	latencies         []time.Duration
	nextSample        int // latencies が満杯の時に上書きする位置
	maxLatencySamples int
}

// New はデフォルト設定でメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は指定した設定でメトリクスを作成する
func NewWithConfig(cfg Config) *Metrics {
	if cfg.MaxLatencySamples <= 0 {
		cfg.MaxLatencySamples = DefaultConfig().MaxLatencySamples
	}
	now := time.Now()
	return &Metrics{
		startTime:         now,
		lastResetTime:     now,
		latencies:         make([]time.Duration, 0, cfg.MaxLatencySamples),
		maxLatencySamples: cfg.MaxLatencySamples,
	}
}

// RecordSuccess は成功した処理を記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.totalRequests.Add(1)
	m.successRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	m.sampleLocked(latency)
	m.mu.Unlock()
}

// RecordFailure は失敗した処理を記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.totalRequests.Add(1)
	m.failedRequests.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	m.windowRequests++
	m.mu.Unlock()
}

// sampleLocked はレイテンシを保存する。上限に達したら古いものから上書きする
func (m *Metrics) sampleLocked(latency time.Duration) {
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
		return
	}
	m.latencies[m.nextSample] = latency
	m.nextSample = (m.nextSample + 1) % m.maxLatencySamples
}

// TotalRequests は総処理数を返す
func (m *Metrics) TotalRequests() uint64 {
	return m.totalRequests.Load()
}

// SuccessRequests は成功数を返す
func (m *Metrics) SuccessRequests() uint64 {
	return m.successRequests.Load()
}

// FailedRequests は失敗数を返す
func (m *Metrics) FailedRequests() uint64 {
	return m.failedRequests.Load()
}

// RPS は直近ウィンドウの毎秒処理数を返す
func (m *Metrics) RPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := time.Since(m.lastResetTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.windowRequests) / elapsed
}

// OverallRPS は開始からの平均を返す
func (m *Metrics) OverallRPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.totalRequests.Load()) / elapsed
}

// AverageLatency は平均レイテンシを返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency はP99レイテンシを返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	sorted := slices.Clone(m.latencies)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	total := m.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedRequests.Load()) / float64(total)
}

// Reset はウィンドウメトリクスをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowRequests = 0
	m.lastResetTime = time.Now()
	m.latencies = m.latencies[:0]
	m.nextSample = 0
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalRequests   uint64        `json:"total"`
	SuccessRequests uint64        `json:"success"`
	FailedRequests  uint64        `json:"failed"`
	RPS             float64       `json:"rps"`
	OverallRPS      float64       `json:"overall_rps"`
	AverageLatency  time.Duration `json:"average_latency_ns"`
	P99Latency      time.Duration `json:"p99_latency_ns"`
	ErrorRate       float64       `json:"error_rate"`
	Elapsed         time.Duration `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:   m.TotalRequests(),
		SuccessRequests: m.SuccessRequests(),
		FailedRequests:  m.FailedRequests(),
		RPS:             m.RPS(),
		OverallRPS:      m.OverallRPS(),
		AverageLatency:  m.AverageLatency(),
		P99Latency:      m.P99Latency(),
		ErrorRate:       m.ErrorRate(),
		Elapsed:         time.Since(m.startTime),
	}
}
