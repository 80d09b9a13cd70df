package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"acceptor/internal/logger"
	"acceptor/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// Config はClientの設定
type Config struct {
	Addr        string        // 接続先
	Connections int           // 開く接続の総数
	Concurrency int           // 同時に開いておく接続数（0で Connections と同じ）
	Hold        time.Duration // 1接続を保持する時間
	DialTimeout time.Duration // 接続タイムアウト
	Request     []byte        // 接続後に送るバイト列。空なら何も送らず保持する
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:8081",
		Connections: 5,
		Concurrency: 0,
		Hold:        200 * time.Millisecond,
		DialTimeout: 5 * time.Second,
	}
}

// Client は長時間接続を張る負荷生成器
type Client struct {
	config  Config
	metrics *metrics.Metrics

	running atomic.Bool
	opened  atomic.Int64
}

// New は新しいClientを作成する
func New(config Config) *Client {
	return &Client{
		config:  config,
		metrics: metrics.New(),
	}
}

// Run は全接続が終わるまで負荷を生成する
//
// 個々の接続の失敗はメトリクスに数え、最初のエラーを返す。
func (c *Client) Run(ctx context.Context) (*metrics.Snapshot, error) {
	if c.config.Connections < 1 {
		return nil, errors.New("connections must be at least 1")
	}
	if c.running.Swap(true) {
		return nil, errors.New("client already running")
	}
	defer c.running.Store(false)

	limit := c.config.Concurrency
	if limit <= 0 {
		limit = c.config.Connections
	}

	logger.Info("client", "Opening %d connections to %s (concurrency: %d, hold: %v)",
		c.config.Connections, c.config.Addr, limit, c.config.Hold)

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < c.config.Connections; i++ {
		if ctx.Err() != nil {
			break
		}
		id := i
		g.Go(func() error {
			return c.session(ctx, id)
		})
	}
	err := g.Wait()

	snapshot := c.metrics.Snapshot()
	logger.Info("client", "Finished: %d ok, %d failed", snapshot.SuccessRequests, snapshot.FailedRequests)
	return &snapshot, err
}

// RunFor は指定時間で打ち切って負荷を生成する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) (*metrics.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	return c.Run(ctx)
}

// session は1接続を開いて保持し、閉じる
func (c *Client) session(ctx context.Context, id int) error {
	start := time.Now()

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Addr)
	if err != nil {
		c.metrics.RecordFailure(time.Since(start))
		return fmt.Errorf("connection %d: %w", id, err)
	}
	defer conn.Close()
	c.opened.Add(1)

	if len(c.config.Request) > 0 {
		err = c.exchange(conn)
	} else {
		c.hold(ctx)
	}

	if err != nil {
		c.metrics.RecordFailure(time.Since(start))
		return fmt.Errorf("connection %d: %w", id, err)
	}
	c.metrics.RecordSuccess(time.Since(start))
	return nil
}

// exchange はリクエストを送り、サーバーが閉じるまで応答を読む
func (c *Client) exchange(conn net.Conn) error {
	timeout := c.config.Hold
	if timeout <= 0 {
		timeout = c.config.DialTimeout
	}
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := conn.Write(c.config.Request); err != nil {
		return err
	}
	n, err := io.Copy(io.Discard, conn)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("no response within %v", timeout)
		}
		return err
	}
	if n == 0 {
		return errors.New("connection closed without a response")
	}
	return nil
}

// hold は Hold の間、または ctx が終わるまで待つ
func (c *Client) hold(ctx context.Context) {
	if c.config.Hold <= 0 {
		return
	}
	timer := time.NewTimer(c.config.Hold)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Opened は確立できた接続の数を返す
func (c *Client) Opened() int64 {
	return c.opened.Load()
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}
