package proxy

import (
	"errors"
	"net/http"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/flowtoken"
	"github.com/MrEthical07/goRecovery/metrics/export/prometheus"
	"github.com/MrEthical07/goRecovery/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps are the collaborators of the proxy routes. Only Logger falls back to a
// default; a nil Sessions or Tokens disables step continuity, a nil Limiter
// disables throttling.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	Sessions   SessionStore
	Tokens     *flowtoken.Manager
	Limiter    Limiter
	Audit      goRecovery.AuditSink
	Metrics    *goRecovery.Metrics
	NewFlowID  func() string
	Now        func() time.Time
}

// Handlers serves the recovery routes.
type Handlers struct {
	config   Config
	upstream *Upstream
	logger   *zap.Logger
	sessions SessionStore
	tokens   *flowtoken.Manager
	limiter  Limiter
	audit    goRecovery.AuditSink
	metrics  *goRecovery.Metrics
	newID    func() string
	now      func() time.Time
}

// NewHandlers validates cfg and binds deps.
func NewHandlers(cfg Config, deps Deps) (*Handlers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized()

	if (deps.Sessions == nil) != (deps.Tokens == nil) {
		return nil, errors.New("proxy: Sessions and Tokens must be set together")
	}

	h := &Handlers{
		config:   cfg,
		logger:   deps.Logger,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		limiter:  deps.Limiter,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		newID:    deps.NewFlowID,
		now:      deps.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	h.logger = h.logger.Named("proxy")
	if h.audit == nil {
		h.audit = goRecovery.NoOpSink{}
	}
	if h.newID == nil {
		h.newID = uuid.NewString
	}
	if h.now == nil {
		h.now = time.Now
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.UpstreamTimeout}
	}
	h.upstream = NewUpstream(cfg.BackendURL, cfg.LangID, httpClient)

	return h, nil
}

// Register mounts the four recovery routes on rg.
func (h *Handlers) Register(rg gin.IRoutes) {
	rg.POST(goRecovery.RouteForgotPassword, h.forgotPassword)
	rg.POST(goRecovery.RouteVerifyEmail, h.verify(goRecovery.MethodEmail))
	rg.POST(goRecovery.RouteVerifyPhone, h.verify(goRecovery.MethodPhone))
	rg.POST(goRecovery.RouteResetPassword, h.resetPassword)
}

// NewRouter builds the gin engine: middleware, CORS for cfg.AllowedOrigins,
// the recovery routes, GET /healthz and GET /metrics.
func NewRouter(cfg Config, deps Deps) (*gin.Engine, error) {
	h, err := NewHandlers(cfg, deps)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestContext())
	router.Use(middleware.AccessLog(h.logger))
	router.Use(middleware.SecurityHeaders())
	if len(h.config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     h.config.AllowedOrigins,
			AllowMethods:     []string{http.MethodPost, http.MethodGet, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Accept-Language", middleware.HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", middleware.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	exporter := prometheus.NewPrometheusExporterFromSource(metricsSource{metrics: h.metrics, audit: h.audit})
	router.GET("/metrics", gin.WrapH(exporter.Handler()))

	h.Register(router)
	return router, nil
}

type metricsSource struct {
	metrics *goRecovery.Metrics
	audit   goRecovery.AuditSink
}

func (s metricsSource) MetricsSnapshot() goRecovery.MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s metricsSource) AuditDropped() uint64 {
	if d, ok := s.audit.(interface{ Dropped() uint64 }); ok {
		return d.Dropped()
	}
	return 0
}
