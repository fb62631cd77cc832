// Package web serves the monitoring dashboard API: trading statistics,
// recent analyses, the trade ledger and a WebSocket push channel for
// live scan results.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rdone4425/trading-ai/internal/ctxstore"
	"github.com/rdone4425/trading-ai/internal/scanner"
	"github.com/rdone4425/trading-ai/internal/stats"
	"github.com/rdone4425/trading-ai/internal/timeutil"
)

// ScanState exposes the scanner state the API reports.
type ScanState interface {
	Running() bool
	LastResult() *scanner.ScanResult
}

// Config holds the server settings.
type Config struct {
	Addr        string
	Environment string
	Timeframe   string
}

// Server is the HTTP API server.
type Server struct {
	router *gin.Engine
	server *http.Server
	hub    *Hub
	logger zerolog.Logger

	cfg   Config
	stats *stats.Store
	scans ScanState
	store *ctxstore.Store
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer builds the API server. The scan state and context store
// may be nil, the matching endpoints then report empty data.
func NewServer(cfg Config, statsStore *stats.Store, scans ScanState, store *ctxstore.Store, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		hub:    NewHub(logger),
		logger: logger.With().Str("component", "web").Logger(),
		cfg:    cfg,
		stats:  statsStore,
		scans:  scans,
		store:  store,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", s.handleHealth)
	api := router.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/analysis", s.handleAnalysis)
		api.GET("/analysis/recent", s.handleAnalysis)
		api.GET("/trades", s.handleTrades)
		api.GET("/dashboard", s.handleDashboard)
		api.GET("/status", s.handleStatus)
		api.GET("/context", s.handleContext)
	}
	router.GET("/ws", s.handleWebSocket)

	s.router = router
	return s
}

// Hub returns the WebSocket hub for pushing scan results.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Web 服务已启动")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Web 服务正在关闭")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP 请求")
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": timeutil.NowShanghai().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 {
		days = 30
	}
	respondOK(c, s.stats.Calculate(days))
}

func (s *Server) handleAnalysis(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	respondOK(c, s.stats.RecentAnalyses(limit))
}

func (s *Server) handleTrades(c *gin.Context) {
	trades := s.stats.Trades()
	if len(trades) > 50 {
		trades = trades[len(trades)-50:]
	}
	respondOK(c, trades)
}

func (s *Server) handleDashboard(c *gin.Context) {
	respondOK(c, gin.H{
		"dashboard": s.stats.DashboardData(),
		"timestamp": timeutil.NowShanghai().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"environment": s.cfg.Environment,
		"timeframe":   s.cfg.Timeframe,
		"running":     false,
		"ws_clients":  s.hub.ClientCount(),
	}
	if s.scans != nil {
		status["running"] = s.scans.Running()
		if last := s.scans.LastResult(); last != nil {
			status["last_scan_id"] = last.ScanID
			status["last_scan_time"] = last.ScanTime
			status["analyzed_count"] = last.AnalyzedCount
		}
	}
	respondOK(c, status)
}

func (s *Server) handleContext(c *gin.Context) {
	if s.store == nil {
		respondOK(c, gin.H{"stats": ctxstore.Stats{}})
		return
	}

	data := gin.H{"stats": s.store.Stats()}
	if strategy, ok, err := s.store.LatestStrategy(); err == nil && ok {
		data["strategy"] = strategy
	}
	if learnings, err := s.store.Learnings(); err == nil {
		data["learnings"] = learnings
	}
	if reviews, err := s.store.Reviews(); err == nil {
		data["reviews"] = reviews
	}
	respondOK(c, data)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket 升级失败")
		return
	}

	cl := &client{hub: s.hub, conn: conn, send: make(chan []byte, 256)}
	s.hub.register <- cl

	go cl.writePump()
	go cl.readPump()
}
