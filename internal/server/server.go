// Package server assembles the HTTP control plane: routing, middleware
// stack, and lifecycle. It owns the listener; the core facade owns the
// managers.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/arclight-os/core/internal/api/http"
	"github.com/arclight-os/core/internal/api/middleware"
	"github.com/arclight-os/core/internal/api/ws"
	"github.com/arclight-os/core/internal/core"
	"github.com/arclight-os/core/internal/infrastructure/config"
	"github.com/arclight-os/core/internal/infrastructure/logging"
	"github.com/arclight-os/core/internal/infrastructure/monitoring"
)

// Server wraps the HTTP control plane.
type Server struct {
	router *gin.Engine
	http   *http.Server
	core   *core.Core
	config *config.Config
	logger *logging.Logger
}

// New assembles the router over a booted core.
func New(cfg *config.Config, c *core.Core, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := apihttp.NewHandlers(c, logger.Named("http"))
	stream := ws.NewHandler(c, logger.Named("ws"), metrics)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/capabilities/issue", handlers.IssueCapability)
	router.POST("/capabilities/delegate", handlers.DelegateCapability)
	router.POST("/capabilities/revoke", handlers.RevokeCapability)
	router.POST("/capabilities/validate", handlers.ValidateCapability)
	router.POST("/capabilities/info", handlers.CapabilityInfo)

	router.POST("/namespaces", handlers.CreateNamespace)
	router.DELETE("/namespaces/:id", handlers.DeleteNamespace)
	router.GET("/namespaces/:id/capabilities", handlers.NamespaceCapabilities)
	router.POST("/namespaces/:id/import", handlers.ImportCapability)
	router.POST("/namespaces/:id/peer-share", handlers.SetPeerShared)
	router.POST("/namespaces/:id/filter", handlers.SetFilter)

	router.POST("/memory/allocate", handlers.AllocateMemory)
	router.POST("/memory/protect", handlers.ProtectMemory)
	router.POST("/memory/free", handlers.FreeMemory)
	router.GET("/memory/stats", handlers.MemoryStats)

	router.POST("/queues/:ns/submit", handlers.SubmitTask)
	router.GET("/queues/:ns/completions", handlers.PollCompletion)
	router.GET("/queues/:ns/stream", stream.StreamCompletions)
	router.POST("/tasks/:id/cancel", handlers.CancelTask)
	router.GET("/scheduler/stats", handlers.SchedulerStats)

	router.GET("/audit", handlers.QueryAudit)

	return &Server{
		router: router,
		core:   c,
		config: cfg,
		logger: logger,
	}
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info("Control plane listening", zap.String("addr", addr))

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then the core.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP drain failed", zap.Error(err))
		}
	}
	return s.core.Shutdown(ctx)
}
