// Package api assembles the HTTP surface: router construction, middleware
// wiring, endpoint registration, and server lifecycle.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/antigravity-router/antigravity-proxy/internal/api/handlers"
	"github.com/antigravity-router/antigravity-proxy/internal/api/middleware"
	"github.com/antigravity-router/antigravity-proxy/internal/config"
	"github.com/antigravity-router/antigravity-proxy/internal/logging"
	"github.com/antigravity-router/antigravity-proxy/internal/pool"
)

// Server is the inbound HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	pool       *pool.Pool
	version    string

	mu  sync.RWMutex
	cfg *config.Config
}

// NewServer builds the API server and its route table.
//
// Parameters:
//   - cfg: The loaded configuration
//   - deps: The shared handler dependencies
//   - accountPool: The account pool, for reload-triggered cooldown resets
//   - requestLogger: Optional request logger, nil when disabled
//   - version: The build version reported by /health
//
// Returns:
//   - *Server: The server, ready to Start
//   - error: An error when handler construction fails
func NewServer(cfg *config.Config, deps handlers.Deps, accountPool *pool.Pool,
	requestLogger *logging.RequestLogger, version string) (*Server, error) {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  gin.New(),
		pool:    accountPool,
		cfg:     cfg,
		version: version,
	}

	s.engine.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Errorf("panic serving %s: %v", c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": "internal server error", "type": "api_error"},
		})
	}))
	s.engine.Use(middleware.CORS())
	if requestLogger != nil {
		s.engine.Use(requestLogger.Middleware())
	}

	openai, err := handlers.NewOpenAIHandler(deps)
	if err != nil {
		return nil, err
	}
	claude, err := handlers.NewClaudeHandler(deps)
	if err != nil {
		return nil, err
	}
	models := handlers.NewModelsHandler(deps.Registry)

	s.setupRoutes(openai, claude, models)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: s.engine,
	}
	return s, nil
}

func (s *Server) setupRoutes(openai *handlers.OpenAIHandler, claude *handlers.ClaudeHandler,
	models *handlers.ModelsHandler) {
	s.engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Antigravity proxy %s is running", s.version)
	})
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
	})

	v1 := s.engine.Group("/v1")
	v1.Use(middleware.Auth(s.currentAPIKey))
	v1.POST("/chat/completions", openai.ChatCompletions)
	v1.POST("/responses", openai.Responses)
	v1.POST("/messages", claude.Messages)
	v1.GET("/models", models.List)
}

// currentAPIKey reads the shared secret from the live configuration so that
// reloads take effect without restarting the server.
func (s *Server) currentAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Server.APIKey
}

// UpdateConfig swaps in a freshly reloaded configuration. Every reload also
// clears account cooldowns so operators can force retries by touching the
// config file.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.pool.ClearAllRateLimits()
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	log.Infof("API server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
