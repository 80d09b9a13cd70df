package connector

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"acceptor/internal/events"
	"acceptor/internal/logger"
	"acceptor/internal/metrics"
	"acceptor/internal/worker"

	"github.com/google/uuid"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Handler は受け付けた接続を処理する
//
// Serve が戻った後、コネクタは接続を閉じる。
type Handler interface {
	Serve(conn net.Conn)
}

// HandlerFunc は関数を Handler として使うためのアダプタ
type HandlerFunc func(conn net.Conn)

// Serve は f(conn) を呼ぶ
func (f HandlerFunc) Serve(conn net.Conn) {
	f(conn)
}

// Config はコネクタの設定
type Config struct {
	Host         string        // 空なら全インターフェース
	Port         int           // 1〜65535
	AcceptCount  int           // OS の accept backlog と待ち行列の容量
	CorePoolSize int           // アイドルでも回収しないワーカー数
	MaxThreads   int           // ワーカー数の上限
	KeepAlive    time.Duration // コア超過ワーカーのアイドル許容時間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Port:         8081,
		AcceptCount:  100,
		CorePoolSize: 0,
		MaxThreads:   5,
		KeepAlive:    60 * time.Second,
	}
}

// Addr はリッスンアドレスを返す
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: fmt.Sprintf("(%d) must be between 1 and 65535", c.Port)}
	}
	if c.AcceptCount < 0 {
		return &ConfigError{Field: "accept_count", Reason: "must be non-negative"}
	}
	if c.CorePoolSize < 0 {
		return &ConfigError{Field: "core_pool_size", Reason: "must be non-negative"}
	}
	if c.MaxThreads < 1 {
		return &ConfigError{Field: "max_threads", Reason: "must be at least 1"}
	}
	if c.MaxThreads < c.CorePoolSize {
		return &ConfigError{Field: "max_threads", Reason: fmt.Sprintf("(%d) must be >= core_pool_size (%d)", c.MaxThreads, c.CorePoolSize)}
	}
	if c.KeepAlive < 0 {
		return &ConfigError{Field: "keep_alive", Reason: fmt.Sprintf("(%v) must be non-negative", c.KeepAlive)}
	}
	return nil
}

// PoolConfig はワーカープールの設定に変換する
func (c Config) PoolConfig() worker.Config {
	return worker.Config{
		CoreSize:      c.CorePoolSize,
		MaxSize:       c.MaxThreads,
		KeepAlive:     c.KeepAlive,
		QueueCapacity: c.AcceptCount,
	}
}

// State はコネクタのライフサイクル状態
type State int

const (
	StateNew State = iota
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// LoopState は accept ループの現在位置
type LoopState int32

const (
	LoopIdle        LoopState = iota // 未開始
	LoopListening                    // Accept 待ち
	LoopAccepting                    // 接続を受け取った直後
	LoopDispatching                  // プールへ投入中
	LoopStopped                      // ループ終了
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopListening:
		return "listening"
	case LoopAccepting:
		return "accepting"
	case LoopDispatching:
		return "dispatching"
	case LoopStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Option はコネクタのオプション
type Option func(*Connector)

// WithEventBus はイベントバスを設定する。プールにも同じバスを使う
func WithEventBus(bus *events.Bus) Option {
	return func(c *Connector) {
		c.eventBus = bus
	}
}

// WithMetrics は接続メトリクスの記録先を設定する
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Connector) {
		c.metrics = m
	}
}

// Connector はポートで接続を受け付け、ワーカープールに処理を渡す
type Connector struct {
	cfg      Config
	handler  Handler
	pool     *worker.Pool
	eventBus *events.Bus
	metrics  *metrics.Collector

	mu       sync.Mutex
	state    State
	listener net.Listener
	closing  chan struct{}
	loopDone chan struct{}

	loopState atomic.Int32
}

// New は新しいコネクタを作成する。プールはここで作られ、ワーカーは最初の接続まで起動しない
func New(cfg Config, handler Handler, opts ...Option) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, &ConfigError{Field: "handler", Reason: "must not be nil"}
	}

	pool, err := worker.New(cfg.PoolConfig())
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	c := &Connector{
		cfg:      cfg,
		handler:  handler,
		pool:     pool,
		closing:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.eventBus != nil {
		pool.SetEventBus(c.eventBus)
	}
	if c.metrics != nil {
		if err := c.metrics.ObservePool(pool.Stats); err != nil {
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}
	return c, nil
}

// Start はソケットをバインドし、accept ループを開始する
func (c *Connector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStarted:
		return ErrAlreadyStarted
	case StateStopping, StateStopped:
		return ErrStopped
	}

	addr := c.cfg.Addr()
	ln, err := listen(addr, c.cfg.AcceptCount)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	c.listener = ln
	c.state = StateStarted
	c.loopState.Store(int32(LoopListening))
	go c.acceptLoop(ln)

	logger.Info("connector", "Connector started on %s (accept_count: %d, core: %d, max: %d, keep_alive: %v)",
		ln.Addr(), c.cfg.AcceptCount, c.cfg.CorePoolSize, c.cfg.MaxThreads, c.cfg.KeepAlive)
	c.eventBus.Publish(events.NewConnectorStartedEvent(ln.Addr().String()))
	return nil
}

// acceptLoop は接続を受け付けてプールに渡し続ける
func (c *Connector) acceptLoop(ln net.Listener) {
	defer close(c.loopDone)
	defer c.loopState.Store(int32(LoopStopped))

	var backoff time.Duration
	for {
		c.loopState.Store(int32(LoopListening))
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextBackoff(backoff)
			logger.Warn("connector", "Accept failed: %v (retrying in %v)", err, backoff)
			c.eventBus.Publish(events.NewAcceptErrorEvent(ln.Addr().String(), err))

			select {
			case <-time.After(backoff):
			case <-c.closing:
				return
			}
			continue
		}
		backoff = 0

		c.loopState.Store(int32(LoopAccepting))
		c.metrics.ConnectionAccepted()
		id := uuid.NewString()

		c.loopState.Store(int32(LoopDispatching))
		c.dispatch(id, conn)
	}
}

// dispatch は接続をプールに投入する。拒否された接続はその場で閉じる
func (c *Connector) dispatch(id string, conn net.Conn) {
	err := c.pool.Submit(c.serveJob(id, conn))
	if err == nil {
		return
	}

	c.metrics.ConnectionRejected()
	logger.Warn("connector", "Connection %s from %s rejected: %v", id, conn.RemoteAddr(), err)
	c.eventBus.Publish(events.NewConnectionRejectedEvent(id, conn.RemoteAddr().String(), err))
	_ = conn.Close()
}

// serveJob は1接続分のジョブを作る
func (c *Connector) serveJob(id string, conn net.Conn) worker.Job {
	return func() {
		start := time.Now()
		defer func() {
			_ = conn.Close()
			if r := recover(); r != nil {
				c.metrics.ConnectionFailed(time.Since(start))
				logger.Debug("connector", "Connection %s handler failed: %v", id, r)
				// ERROR ログと失敗の計上はプール側で行う
				panic(r)
			}
			c.metrics.ConnectionHandled(time.Since(start))
			logger.Debug("connector", "Connection %s closed after %v", id, time.Since(start))
		}()

		logger.Debug("connector", "Connection %s from %s dispatched", id, conn.RemoteAddr())
		c.handler.Serve(conn)
	}
}

// nextBackoff は accept 失敗時の待ち時間を倍々に伸ばす
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

// Stop はリスナーを閉じ、処理中の接続が終わるまで待つ。二度目以降は何もしない
func (c *Connector) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateNew:
		c.state = StateStopped
		c.mu.Unlock()
		c.pool.Shutdown()
		return nil
	case StateStopping, StateStopped:
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	ln := c.listener
	c.mu.Unlock()

	close(c.closing)
	closeErr := ln.Close()
	<-c.loopDone

	c.pool.Shutdown()

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	logger.Info("connector", "Connector stopped on %s", ln.Addr())
	c.eventBus.Publish(events.NewConnectorStoppedEvent(ln.Addr().String()))

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", closeErr)
	}
	return nil
}

// Pool はワーカープールを返す
func (c *Connector) Pool() *worker.Pool {
	return c.pool
}

// Config は設定を返す
func (c *Connector) Config() Config {
	return c.cfg
}

// Addr は実際にリッスンしているアドレスを返す。開始前は nil
func (c *Connector) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// State はライフサイクル状態を返す
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoopState は accept ループの状態を返す
func (c *Connector) LoopState() LoopState {
	return LoopState(c.loopState.Load())
}
