package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/universal-ai/gateway/internal/admin"
	"github.com/universal-ai/gateway/internal/authorizer"
	"github.com/universal-ai/gateway/internal/config"
	"github.com/universal-ai/gateway/internal/logger"
	"github.com/universal-ai/gateway/internal/provider"
	"github.com/universal-ai/gateway/internal/storage"
	"github.com/universal-ai/gateway/internal/usage"
	"go.uber.org/zap"
)

// Options carries the core services the HTTP layer is built on
type Options struct {
	Store      *storage.KeyStore
	Authorizer *authorizer.Authorizer
	Admin      *admin.Controller
	Usage      usage.Log
	Logs       *logger.Buffer
}

// Server represents the gateway HTTP server
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	router     *gin.Engine
	store      *storage.KeyStore
	authorizer *authorizer.Authorizer
	admin      *admin.Controller
	usage      usage.Log
	logs       *logger.Buffer
	providers  *provider.Registry
	limiter    *ipLimiter
	started    time.Time
}

// New creates a new server instance
func New(cfg *config.Config, opts Options, log *zap.Logger) (*Server, error) {
	if opts.Store == nil || opts.Authorizer == nil || opts.Admin == nil || opts.Usage == nil {
		return nil, fmt.Errorf("server: store, authorizer, admin and usage are required")
	}

	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:        cfg,
		logger:     log,
		router:     gin.New(),
		store:      opts.Store,
		authorizer: opts.Authorizer,
		admin:      opts.Admin,
		usage:      opts.Usage,
		logs:       opts.Logs,
		providers:  provider.NewRegistry(cfg.Providers),
		started:    time.Now(),
	}
	if s.logs == nil {
		s.logs = logger.NewBuffer(cfg.Logging.BufferSize)
	}

	for endpoint := range cfg.Endpoints {
		p, ok := cfg.Providers[endpoint]
		if !ok {
			return nil, fmt.Errorf("endpoint %s has no provider", endpoint)
		}
		// a paid request must never be charged for a URL that cannot be built
		if missing := p.Unresolved(); len(missing) > 0 {
			return nil, fmt.Errorf("endpoint %s: placeholders %v are neither required nor defaulted", endpoint, missing)
		}
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggerMiddleware())

	if rl := s.cfg.Security.RateLimit; rl.Enabled {
		s.limiter = newIPLimiter(rl.RequestsPerSecond, rl.Burst)
		s.router.Use(s.rateLimitMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/health")
	})
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// usage view is free and never touches the balance
	s.router.GET("/api_key", s.keyUsage)

	for endpoint := range s.cfg.Endpoints {
		s.router.GET("/"+endpoint,
			s.paramsMiddleware(endpoint),
			s.creditMiddleware(endpoint),
			s.redirectToProvider(endpoint),
		)
	}

	adminGroup := s.router.Group("/admin")
	adminGroup.Use(s.adminAuthMiddleware())
	{
		adminGroup.GET("/generateapi", s.generateKey)
		adminGroup.GET("/listapi", s.listKeys)
		adminGroup.GET("/addcredits", s.addCredits)
		adminGroup.GET("/increaseapilimit", s.setDailyLimit)
		adminGroup.GET("/resetapilimit", s.resetDailyUsage)
		adminGroup.GET("/stats", s.stats)
		adminGroup.GET("/logs", s.getLogs)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"keys":      s.store.Len(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}
