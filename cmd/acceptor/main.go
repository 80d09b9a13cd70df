// Package main is the entry point for acceptor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acceptor/internal/api"
	"acceptor/internal/client"
	"acceptor/internal/config"
	"acceptor/internal/connector"
	"acceptor/internal/events"
	"acceptor/internal/logger"
	"acceptor/internal/metrics"
	"acceptor/internal/static"

	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
)

// options はコマンドラインフラグ
type options struct {
	configFile  string
	presetName  string
	listPresets bool
	showVersion bool

	host        string
	port        int
	acceptCount int
	core        int
	maxThreads  int
	keepAlive   time.Duration
	root        string
	monitorAddr string
	noMonitor   bool
	logLevel    string

	bench       bool
	target      string
	connections int
	concurrency int
	hold        time.Duration
	request     string
}

// newFlagSet はフラグ定義を作る
func newFlagSet(opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("acceptor", flag.ContinueOnError)

	fs.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	fs.StringVar(&opts.presetName, "preset", "", "プリセット名 (tomcat, burst, pinned)")
	fs.BoolVar(&opts.listPresets, "list-presets", false, "利用可能なプリセットを表示")
	fs.BoolVar(&opts.showVersion, "version", false, "バージョンを表示")

	fs.StringVar(&opts.host, "host", "", "リッスンするホスト")
	fs.IntVar(&opts.port, "port", 0, "リッスンするポート")
	fs.IntVar(&opts.acceptCount, "accept-count", 0, "accept backlog と待ち行列の容量")
	fs.IntVar(&opts.core, "core", 0, "アイドルでも回収しないワーカー数")
	fs.IntVar(&opts.maxThreads, "max-threads", 0, "ワーカー数の上限")
	fs.DurationVar(&opts.keepAlive, "keep-alive", 0, "コア超過ワーカーのアイドル許容時間 (例: 60s)")
	fs.StringVar(&opts.root, "root", "", "静的ファイルのルートディレクトリ")
	fs.StringVar(&opts.monitorAddr, "monitor-addr", "", "監視 API のアドレス")
	fs.BoolVar(&opts.noMonitor, "no-monitor", false, "監視 API を無効化")
	fs.StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")

	fs.BoolVar(&opts.bench, "bench", false, "負荷生成モードで起動")
	fs.StringVar(&opts.target, "target", "127.0.0.1:8081", "負荷生成の接続先")
	fs.IntVar(&opts.connections, "connections", 6, "負荷生成で開く接続数")
	fs.IntVar(&opts.concurrency, "concurrency", 0, "同時接続数 (0で全接続を同時に開く)")
	fs.DurationVar(&opts.hold, "hold", 2*time.Second, "1接続を保持する時間")
	fs.StringVar(&opts.request, "request", "", "接続後に送るリクエストのパス (例: /index.html)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), `acceptor - TCP connector with an elastic worker pool

Usage:
  acceptor [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), `
Examples:
  # 既定設定 (port 8081, core 0, max 5, keep-alive 60s) で起動
  acceptor --root ./public

  # プリセットを使う
  acceptor --preset burst

  # 設定ファイルから起動
  acceptor --config acceptor.yaml

  # 6接続を2秒ずつ保持する負荷をかける
  acceptor --bench --target 127.0.0.1:8081 --connections 6 --hold 2s
`)
	}
	return fs
}

func main() {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("acceptor version %s\n", version)
		return
	}

	if opts.listPresets {
		printPresets()
		return
	}

	if opts.bench {
		if err := runBench(opts); err != nil {
			logger.Error("", "負荷生成エラー: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := buildConfig(opts, fs)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		logger.Error("", "サーバーエラー: %v", err)
		os.Exit(1)
	}
}

// buildConfig は設定を構築する
//
// 優先順位: 明示したフラグ > 環境変数 > 設定ファイル > プリセット > 既定値
func buildConfig(opts options, fs *flag.FlagSet) (*config.FileConfig, error) {
	var cfg *config.FileConfig

	switch {
	case opts.configFile != "":
		fileConfig, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		cfg = fileConfig
	case opts.presetName != "":
		preset, ok := config.GetPreset(opts.presetName)
		if !ok {
			return nil, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", opts.presetName, config.ListPresets())
		}
		cfg = preset
	default:
		cfg = config.Default()
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("環境変数エラー: %w", err)
	}

	// 明示的に指定されたフラグだけを反映する
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Connector.Host = opts.host
		case "port":
			cfg.Connector.Port = opts.port
		case "accept-count":
			cfg.Connector.AcceptCount = opts.acceptCount
		case "core":
			cfg.Connector.CorePoolSize = opts.core
		case "max-threads":
			cfg.Connector.MaxThreads = opts.maxThreads
		case "keep-alive":
			cfg.Connector.KeepAlive = config.Duration(opts.keepAlive)
		case "root":
			cfg.Static.Root = opts.root
		case "monitor-addr":
			cfg.Monitor.Addr = opts.monitorAddr
		case "no-monitor":
			cfg.Monitor.Enabled = !opts.noMonitor
		case "log-level":
			cfg.Log.Level = opts.logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return cfg, nil
}

// runServer はコネクタと監視 API を起動し、シグナルを受けるまで動かす
func runServer(cfg *config.FileConfig) error {
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger.Default.SetLevel(level)

	cc := cfg.ToConnectorConfig()
	fmt.Println("acceptor - TCP connector with an elastic worker pool")
	fmt.Println("====================================================")
	fmt.Printf("Listen: %s (accept_count: %d)\n", cc.Addr(), cc.AcceptCount)
	fmt.Printf("Pool: core %d, max %d, keep-alive %v\n", cc.CorePoolSize, cc.MaxThreads, cc.KeepAlive)
	fmt.Printf("Static root: %s\n", cfg.Static.Root)
	if cfg.Monitor.Enabled {
		fmt.Printf("Monitor: http://%s\n", cfg.Monitor.Addr)
	}
	fmt.Println("====================================================")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()
	collector := metrics.NewCollector("acceptor")

	conn, err := connector.New(cc, static.New(cfg.Static.Root),
		connector.WithEventBus(bus), connector.WithMetrics(collector))
	if err != nil {
		return err
	}
	if err := conn.Start(); err != nil {
		_ = conn.Stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Monitor.Enabled {
		server := api.NewServer(cfg.Monitor.Addr, conn, collector, bus)
		g.Go(func() error {
			return server.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n中断シグナルを受信、コネクタを停止中...")
		return conn.Stop()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	stats := conn.Pool().Stats()
	snap := collector.Window().Snapshot()
	fmt.Printf("Handled: %d, Failed: %d, Rejected: %d, Largest pool: %d\n",
		snap.SuccessRequests, snap.FailedRequests, stats.Rejected, stats.LargestPoolSize)
	return nil
}

// runBench は負荷生成を実行する
func runBench(opts options) error {
	cfg := client.DefaultConfig()
	cfg.Addr = opts.target
	cfg.Connections = opts.connections
	cfg.Concurrency = opts.concurrency
	cfg.Hold = opts.hold
	if opts.request != "" {
		cfg.Request = []byte("GET " + opts.request + " HTTP/1.1\r\nHost: " + opts.target + "\r\n\r\n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := client.New(cfg).Run(ctx)
	if snap != nil {
		fmt.Println("Bench Report")
		fmt.Println("============")
		fmt.Printf("Connections: %d ok, %d failed\n", snap.SuccessRequests, snap.FailedRequests)
		fmt.Printf("Avg: %v, P99: %v, Elapsed: %v\n",
			snap.AverageLatency, snap.P99Latency, snap.Elapsed.Truncate(time.Millisecond))
	}
	return err
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセット:")
	fmt.Println()

	for _, name := range config.ListPresets() {
		p, _ := config.GetPreset(name)
		c := p.Connector
		fmt.Printf("  %-8s core %d, max %d, keep-alive %v, accept %d\n",
			name, c.CorePoolSize, c.MaxThreads, time.Duration(c.KeepAlive), c.AcceptCount)
	}

	fmt.Println()
	fmt.Println("使用例: acceptor --preset burst")
}
