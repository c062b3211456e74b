// Package api is the operator surface: REST endpoints for strategy and
// agent lifecycle, portfolio risk, and the decision journal, plus a
// websocket stream of decisions fed from NATS.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nehcuh/cherryquant/internal/config"
	"github.com/nehcuh/cherryquant/internal/db"
	"github.com/nehcuh/cherryquant/internal/journal"
	"github.com/nehcuh/cherryquant/internal/manager"
	"github.com/nehcuh/cherryquant/internal/risk"
)

// Deps wires the API into the core. A nil Store disables strategy
// persistence; lifecycle changes then live only in memory.
type Deps struct {
	Manager *manager.Manager
	Risk    *risk.Manager
	Journal *journal.Journal
	Store   *db.StrategyRepository
	NATS    *nats.Conn // nil disables the websocket stream
	Subject string     // decision stream subject prefix
	Pools   config.Pools
}

// Server is the operator REST/WS server
type Server struct {
	router *gin.Engine
	deps   Deps
	cfg    config.APIConfig
	log    zerolog.Logger
	server *http.Server
}

// NewServer builds the server and its routes
func NewServer(cfg config.APIConfig, deps Deps, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		deps:   deps,
		cfg:    cfg,
		log:    log.With().Str("component", "api").Logger(),
	}

	router.Use(s.loggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	if cfg.RateLimitPerMin > 0 {
		router.Use(s.rateLimitMiddleware(cfg.RateLimitPerMin))
	}

	s.setupRoutes()
	return s
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler { return s.router }

// Start serves until the listener fails or Stop is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("Starting API server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := s.log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}
		event.Msg("API request")
	}
}

// rateLimitMiddleware enforces a per-client request budget
func (s *Server) rateLimitMiddleware(perMinute int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[ip]
		if !ok {
			l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
			limiters[ip] = l
		}
		return l
	}

	return func(c *gin.Context) {
		if !limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
