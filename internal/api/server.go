package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"acceptor/internal/config"
	"acceptor/internal/connector"
	"acceptor/internal/events"
	"acceptor/internal/logger"
	"acceptor/internal/metrics"
	"acceptor/internal/worker"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/websocket"
)

// Server は監視用 API サーバー
type Server struct {
	addr      string
	connector *connector.Connector
	collector *metrics.Collector
	bus       *events.Bus
	startTime time.Time

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
	ready  chan struct{}
	bound  net.Addr
}

// NewServer は新しい API サーバーを作成する。collector と bus は nil でもよい
func NewServer(addr string, c *connector.Connector, collector *metrics.Collector, bus *events.Bus) *Server {
	return &Server{
		addr:      addr,
		connector: c,
		collector: collector,
		bus:       bus,
		startTime: time.Now(),
		wsClients: make(map[*websocket.Conn]bool),
		ready:     make(chan struct{}),
	}
}

// Handler はルーティング済みの HTTP ハンドラを返す
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/pool", s.handlePool)
	api.GET("/presets", s.handlePresets)

	if s.collector != nil {
		router.GET("/metrics", gin.WrapH(s.collector.Handler()))
	}
	router.GET("/ws", gin.WrapH(websocket.Handler(s.handleWebSocket)))

	return router
}

// requestLogger はリクエストを DEBUG で記録する
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("api", "%s %s %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.bound = ln.Addr()

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.forwardEvents(ctx)
	go s.broadcastLoop(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	logger.Info("api", "Monitor API listening on http://%s", ln.Addr())
	close(s.ready)

	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Ready は Start がリッスンを開始すると閉じられる
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr は実際にリッスンしているアドレスを返す。Ready 前は nil
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.bound
	default:
		return nil
	}
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	State       string           `json:"state"`
	LoopState   string           `json:"loop_state"`
	Addr        string           `json:"addr,omitempty"`
	Uptime      string           `json:"uptime"`
	Config      ConfigInfo       `json:"config"`
	Connections metrics.Snapshot `json:"connections"`
}

// ConfigInfo はコネクタ設定の表示用
type ConfigInfo struct {
	Port         int    `json:"port"`
	AcceptCount  int    `json:"accept_count"`
	CorePoolSize int    `json:"core_pool_size"`
	MaxThreads   int    `json:"max_threads"`
	KeepAlive    string `json:"keep_alive"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.connector.Config()
	resp := StatusResponse{
		State:     s.connector.State().String(),
		LoopState: s.connector.LoopState().String(),
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
		Config: ConfigInfo{
			Port:         cfg.Port,
			AcceptCount:  cfg.AcceptCount,
			CorePoolSize: cfg.CorePoolSize,
			MaxThreads:   cfg.MaxThreads,
			KeepAlive:    cfg.KeepAlive.String(),
		},
	}
	if addr := s.connector.Addr(); addr != nil {
		resp.Addr = addr.String()
	}
	if s.collector != nil {
		resp.Connections = s.collector.Window().Snapshot()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePool(c *gin.Context) {
	c.JSON(http.StatusOK, s.connector.Pool().Stats())
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name         string `json:"name"`
	CorePoolSize int    `json:"core_pool_size"`
	MaxThreads   int    `json:"max_threads"`
	KeepAlive    string `json:"keep_alive"`
}

func (s *Server) handlePresets(c *gin.Context) {
	var presets []PresetInfo
	for _, name := range config.ListPresets() {
		p, _ := config.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:         name,
			CorePoolSize: p.Connector.CorePoolSize,
			MaxThreads:   p.Connector.MaxThreads,
			KeepAlive:    time.Duration(p.Connector.KeepAlive).String(),
		})
	}
	c.JSON(http.StatusOK, presets)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中の WebSocket クライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

// Message は WebSocket で送るメッセージ
type Message struct {
	Type  string        `json:"type"`
	Event *events.Event `json:"event,omitempty"`
	Pool  *worker.Stats `json:"pool,omitempty"`
}

func (s *Server) broadcast(msg Message) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		logger.Error("api", "Failed to encode message: %v", err)
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents はバスのイベントをそのまま配信する
func (s *Server) forwardEvents(ctx context.Context) {
	if s.bus == nil {
		return
	}
	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(Message{Type: "event", Event: &ev})
		}
	}
}

// broadcastLoop はプールの状態を1秒ごとに配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.connector.Pool().Stats()
			s.broadcast(Message{Type: "pool", Pool: &stats})
		}
	}
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ws := range s.wsClients {
		_ = ws.Close()
	}
}
