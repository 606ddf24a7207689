// Package api exposes the latest snapshot and monitoring controls over
// HTTP and streams updates over a websocket.
package api

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/poller"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	DefaultListen   = "127.0.0.1:9273"
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	Enabled bool
	Listen  string
}

func DefaultConfig() Config {
	return Config{Enabled: false, Listen: DefaultListen}
}

// Monitor is the part of the poller the API controls.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Interval() time.Duration
	SetInterval(d time.Duration) error
	Snapshot() *hardware.Snapshot
	Stats() poller.Stats
}

type Server struct {
	cfg      Config
	engine   *gin.Engine
	monitor  Monitor
	hub      *Hub
	logger   logger.Logger
	upgrader websocket.Upgrader
	// baseCtx parents monitoring started through the API.
	baseCtx context.Context
}

func NewServer(cfg Config, monitor Monitor, hub *Hub, log logger.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}

	s := &Server{
		cfg:     cfg,
		engine:  gin.New(),
		monitor: monitor,
		hub:     hub,
		logger:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		baseCtx: context.Background(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(log))
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/snapshot", s.getSnapshot)
		api.GET("/network/primary", s.getPrimaryNetwork)

		monitoring := api.Group("/monitoring")
		monitoring.GET("", s.getMonitoring)
		monitoring.POST("/start", s.startMonitoring)
		monitoring.POST("/stop", s.stopMonitoring)
		monitoring.PUT("/interval", s.setInterval)
	}
	s.engine.GET("/ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("API server shutdown failed")
		}
	}()

	s.logger.Info().Str("listen", s.cfg.Listen).Msg("API server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errFactory.Wrap(errors.ErrStartServer, err)
	}

	return nil
}

// requestLogger logs every request at debug level.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("API request")
	}
}
