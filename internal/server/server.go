package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"auxite-wallet/internal/allocation"
	"auxite-wallet/internal/market"
	"auxite-wallet/internal/oracle"
	"auxite-wallet/internal/service"
	"auxite-wallet/internal/storage"
	"auxite-wallet/internal/wallet"
)

// FeedReader is the read side of the aggregator.
type FeedReader interface {
	Snapshot() service.Snapshot
	Status(sym market.Symbol) service.FeedStatus
}

// BalanceSource reads ERC-20 holdings of a wallet.
type BalanceSource interface {
	Balances(ctx context.Context, holder string) ([]oracle.Balance, error)
}

// TickReader lists recorded price ticks.
type TickReader interface {
	ListRecentTicks(ctx context.Context, symbol market.Symbol, limit int) ([]storage.PriceTick, error)
}

// InfoSource returns the upstream info document.
type InfoSource interface {
	FetchInfo(ctx context.Context) ([]byte, error)
}

// Options configure the HTTP listener.
type Options struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Deps are the components behind the routes. Balances, Ticks, Info and Hub may be
// nil; their routes then answer 503.
type Deps struct {
	Feed       FeedReader
	Allocation *allocation.Checker
	Wallet     wallet.Integration
	Balances   BalanceSource
	Ticks      TickReader
	Info       InfoSource
	Hub        *Hub
}

// Server exposes the price feed over HTTP and WebSocket.
type Server struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	engine *gin.Engine
}

// New builds the router.
func New(opts Options, deps Deps, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	if deps.Allocation == nil {
		deps.Allocation = allocation.NewChecker(logger)
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "http").Logger(),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.cors())

	r.GET("/healthz", s.health)
	r.GET("/ws", s.stream)

	api := r.Group("/api")
	{
		api.GET("/prices", s.prices)
		api.GET("/snapshot", s.snapshot)
		api.GET("/tokens/:symbol", s.token)
		api.GET("/tokens/:symbol/sparkline.png", s.sparkline)
		api.GET("/tokens/:symbol/ticks", s.ticks)

		api.POST("/trade/estimate", s.estimate)
		api.POST("/trade/confirm", s.confirm)

		api.POST("/allocation/check", s.checkAllocation)
		api.GET("/balances/:address", s.balances)
		api.GET("/wallet", s.walletInfo)
		api.GET("/info", s.info)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request handled")
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.opts.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
