package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"acceptor/internal/events"
	"acceptor/internal/logger"

	"github.com/eapache/queue"
)

// Job はワーカーが実行するジョブを表す
type Job func()

var (
	// ErrRejected はプールがジョブを受け付けなかったことを表す
	ErrRejected = errors.New("job rejected")
	// ErrNilJob は nil のジョブが渡されたことを表す
	ErrNilJob = errors.New("nil job")
)

// Config はワーカープールの設定
type Config struct {
	CoreSize      int           // アイドルでも回収しないワーカー数
	MaxSize       int           // ワーカー数の上限
	KeepAlive     time.Duration // コア超過ワーカーのアイドル許容時間（0以下で回収しない）
	QueueCapacity int           // 待ち行列の容量（0で待ち行列なし）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		CoreSize:      0,
		MaxSize:       runtime.NumCPU(),
		KeepAlive:     60 * time.Second,
		QueueCapacity: 100,
	}
}

// ConfigError は不正なプール設定を表す
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid pool config: %s %s", e.Field, e.Reason)
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.CoreSize < 0 {
		return &ConfigError{Field: "core_size", Reason: "must be non-negative"}
	}
	if c.MaxSize < 1 {
		return &ConfigError{Field: "max_size", Reason: "must be at least 1"}
	}
	if c.MaxSize < c.CoreSize {
		return &ConfigError{Field: "max_size", Reason: fmt.Sprintf("(%d) must be >= core_size (%d)", c.MaxSize, c.CoreSize)}
	}
	if c.QueueCapacity < 0 {
		return &ConfigError{Field: "queue_capacity", Reason: "must be non-negative"}
	}
	return nil
}

// Stats はプールの統計情報
type Stats struct {
	LiveWorkers     int    `json:"live_workers"`
	IdleWorkers     int    `json:"idle_workers"`
	BusyWorkers     int    `json:"busy_workers"`
	Queued          int    `json:"queued"`
	QueueCapacity   int    `json:"queue_capacity"`
	CoreSize        int    `json:"core_size"`
	MaxSize         int    `json:"max_size"`
	LargestPoolSize int    `json:"largest_pool_size"`
	Submitted       uint64 `json:"submitted"`
	Completed       uint64 `json:"completed"`
	Rejected        uint64 `json:"rejected"`
	Failed          uint64 `json:"failed"`
	Shutdown        bool   `json:"shutdown"`
}

// Pool はコア数から上限まで伸縮するゴルーチンのプール
type Pool struct {
	cfg Config

	mu       sync.Mutex
	queue    *queue.Queue // Job の FIFO
	idle     []*worker    // 待機中のワーカー（LIFO）
	live     int
	largest  int
	shutdown bool
	done     chan struct{}
	nextID   uint64

	wg       sync.WaitGroup
	eventBus *events.Bus

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
}

// worker は個々のワーカーゴルーチンの状態
type worker struct {
	id      uint64
	handoff chan Job // 待機中に直接渡されるジョブ（容量1）
}

// New は新しいワーカープールを作成する
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		cfg:   cfg,
		queue: queue.New(),
		done:  make(chan struct{}),
	}, nil
}

// SetEventBus はイベントバスを設定する
func (p *Pool) SetEventBus(bus *events.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventBus = bus
}

// Config はプールの設定を返す
func (p *Pool) Config() Config {
	return p.cfg
}

// Submit はジョブをプールに送信する
//
// 判定順: コア数未満なら新規ワーカー、待機中ワーカーがいれば直接渡し、
// 上限未満なら新規ワーカー、待ち行列に空きがあれば積む、それ以外は ErrRejected。
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return ErrNilJob
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return p.reject("pool is shut down")
	}

	switch {
	case p.live < p.cfg.CoreSize:
		p.spawnLocked(job)
	case len(p.idle) > 0:
		w := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		w.handoff <- job
	case p.live < p.cfg.MaxSize:
		p.spawnLocked(job)
	case p.queue.Length() < p.cfg.QueueCapacity:
		p.queue.Add(job)
	default:
		p.mu.Unlock()
		return p.reject("queue is full")
	}
	p.submitted.Add(1)
	p.mu.Unlock()
	return nil
}

// reject は拒否を記録してエラーを返す
func (p *Pool) reject(reason string) error {
	p.rejected.Add(1)
	p.bus().Publish(events.NewJobRejectedEvent(reason))
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// PrestartCoreWorkers はコア数までワーカーを事前に起動し、起動した数を返す
func (p *Pool) PrestartCoreWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := 0
	for !p.shutdown && p.live < p.cfg.CoreSize {
		p.spawnLocked(nil)
		started++
	}
	return started
}

// spawnLocked は新しいワーカーを起動する（p.mu 保持中に呼ぶ）
func (p *Pool) spawnLocked(first Job) {
	p.nextID++
	w := &worker{id: p.nextID, handoff: make(chan Job, 1)}

	p.live++
	if p.live > p.largest {
		p.largest = p.live
	}
	p.wg.Add(1)
	go p.run(w, first)

	logger.Debug("worker", "Worker %d spawned (live: %d)", w.id, p.live)
	p.eventBus.Publish(events.NewWorkerSpawnedEvent(w.id, p.live))
}

// run は個々のワーカーゴルーチン
func (p *Pool) run(w *worker, first Job) {
	defer p.wg.Done()

	job := first
	for {
		if job != nil {
			p.execute(w, job)
		}
		var ok bool
		if job, ok = p.next(w); !ok {
			return
		}
	}
}

// execute はジョブを実行する。panic はこのジョブだけに閉じ込める
func (p *Pool) execute(w *worker, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			logger.Error("worker", "Job panicked on worker %d: %v", w.id, r)
			p.bus().Publish(events.NewJobFailedEvent(w.id, r))
		}
		p.completed.Add(1)
	}()
	job()
}

// next は次のジョブを取得する。false の場合ワーカーは終了する
func (p *Pool) next(w *worker) (Job, bool) {
	p.mu.Lock()
	for {
		if p.queue.Length() > 0 {
			job := p.queue.Remove().(Job)
			p.mu.Unlock()
			return job, true
		}
		if p.shutdown {
			p.live--
			p.mu.Unlock()
			return nil, false
		}

		timed := p.live > p.cfg.CoreSize && p.cfg.KeepAlive > 0
		p.idle = append(p.idle, w)
		p.mu.Unlock()

		job, expired := w.wait(timed, p.cfg.KeepAlive, p.done)
		if job != nil {
			return job, true
		}

		p.mu.Lock()
		if !p.removeIdleLocked(w) {
			// Submit が待機リストから取り出した後なので handoff に必ずジョブがある
			job := <-w.handoff
			p.mu.Unlock()
			return job, true
		}
		if expired && p.live > p.cfg.CoreSize {
			p.live--
			live := p.live
			p.mu.Unlock()
			logger.Debug("worker", "Worker %d reaped after %v idle (live: %d)", w.id, p.cfg.KeepAlive, live)
			p.bus().Publish(events.NewWorkerReapedEvent(w.id, live))
			return nil, false
		}
	}
}

// wait はジョブの受け渡し・アイドルタイムアウト・停止のいずれかを待つ
func (w *worker) wait(timed bool, keepAlive time.Duration, done <-chan struct{}) (Job, bool) {
	if !timed {
		select {
		case job := <-w.handoff:
			return job, false
		case <-done:
			return nil, false
		}
	}

	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	select {
	case job := <-w.handoff:
		return job, false
	case <-timer.C:
		return nil, true
	case <-done:
		return nil, false
	}
}

// removeIdleLocked は待機リストから w を取り除く。見つからなければ false
func (p *Pool) removeIdleLocked(w *worker) bool {
	for i, iw := range p.idle {
		if iw == w {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return true
		}
	}
	return false
}

// bus は現在のイベントバスを返す
func (p *Pool) bus() *events.Bus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eventBus
}

// Shutdown は新規受付を止め、待ち行列と実行中のジョブが終わるまで待つ
func (p *Pool) Shutdown() {
	p.mu.Lock()
	first := p.beginShutdownLocked()
	p.mu.Unlock()

	p.wg.Wait()

	if first {
		logger.Info("worker", "WorkerPool stopped (completed: %d, rejected: %d)",
			p.completed.Load(), p.rejected.Load())
	}
}

// ShutdownNow は Shutdown と同様に停止するが、未着手のジョブは実行せずに返す
//
// 実行中のジョブは中断できないため完了まで待つ。
func (p *Pool) ShutdownNow() []Job {
	p.mu.Lock()
	p.beginShutdownLocked()
	pending := make([]Job, 0, p.queue.Length())
	for p.queue.Length() > 0 {
		pending = append(pending, p.queue.Remove().(Job))
	}
	p.mu.Unlock()

	p.wg.Wait()
	return pending
}

// beginShutdownLocked は停止状態に移行する。初回のみ true を返す
func (p *Pool) beginShutdownLocked() bool {
	if p.shutdown {
		return false
	}
	p.shutdown = true
	close(p.done)
	return true
}

// IsShutdown は停止済みかどうかを返す
func (p *Pool) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// LiveWorkers は生存中のワーカー数を返す
func (p *Pool) LiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// QueueLen は待ち行列に積まれたジョブ数を返す
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Length()
}

// Stats は現在の統計情報を返す
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		LiveWorkers:     p.live,
		IdleWorkers:     len(p.idle),
		BusyWorkers:     p.live - len(p.idle),
		Queued:          p.queue.Length(),
		QueueCapacity:   p.cfg.QueueCapacity,
		CoreSize:        p.cfg.CoreSize,
		MaxSize:         p.cfg.MaxSize,
		LargestPoolSize: p.largest,
		Submitted:       p.submitted.Load(),
		Completed:       p.completed.Load(),
		Rejected:        p.rejected.Load(),
		Failed:          p.failed.Load(),
		Shutdown:        p.shutdown,
	}
}
