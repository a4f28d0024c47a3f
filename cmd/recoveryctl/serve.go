package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/flowtoken"
	"github.com/MrEthical07/goRecovery/internal/config"
	"github.com/MrEthical07/goRecovery/proxy"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	serveConfigPath string
	serveAddr       string
	serveDev        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recovery proxy routes",
	Long: `Serve POST /api/auth/forgot-password, /api/auth/verify-email,
/api/auth/verify-phone and /api/auth/reset-password, plus GET /healthz and
GET /metrics.

With --dev an in-process Redis is used, the flow cookie is not marked Secure
and a random cookie secret is generated when none is configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "recovery.yaml", "YAML config file (optional)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Use in-process Redis and relaxed cookie settings")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.HTTPAddr = serveAddr
	}

	log, err := serviceLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	metrics := goRecovery.NewMetrics(goRecovery.MetricsConfig{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.LatencyHistograms,
	})

	deps := proxy.Deps{
		Logger:  log,
		Metrics: metrics,
	}

	dispatcher := goRecovery.NewAuditDispatcher(goRecovery.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: true,
	}, goRecovery.NewZapSink(log))
	if dispatcher != nil {
		defer dispatcher.Close()
		deps.Audit = dispatcher
	}

	secret := cfg.Cookie.Secret
	if secret == "" && serveDev {
		secret, err = randomSecret()
		if err != nil {
			return err
		}
		log.Warn("generated ephemeral cookie secret; flow cookies will not survive a restart")
	}
	if secret != "" {
		tokens, err := flowtoken.NewManager(flowtoken.Config{
			TTL:           cfg.SessionTTL(),
			SigningMethod: flowtoken.MethodHS256,
			PrivateKey:    []byte(secret),
			Issuer:        "recoveryctl",
			Leeway:        5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("flow token manager: %w", err)
		}
		deps.Tokens = tokens
		deps.Sessions = proxy.NewRedisSessionStore(rdb, cfg.Redis.Prefix)
	} else {
		log.Warn("no cookie secret configured; step continuity disabled")
	}

	if cfg.Limits.RequestLimit > 0 || cfg.Limits.VerifyLimit > 0 {
		deps.Limiter = proxy.NewRedisLimiter(rdb, proxy.LimiterConfig{
			PerContact:   cfg.Limits.PerContact,
			PerIP:        cfg.Limits.PerIP,
			RequestLimit: cfg.Limits.RequestLimit,
			VerifyLimit:  cfg.Limits.VerifyLimit,
			Window:       cfg.LimitWindow(),
		})
	}

	if cfg.BackendURL == "" {
		log.Warn("backend URL not configured; recovery routes will answer 500")
	}

	pcfg := proxy.DefaultConfig()
	pcfg.BackendURL = cfg.BackendURL
	pcfg.LangID = cfg.LangID
	pcfg.UpstreamTimeout = cfg.UpstreamTimeout()
	pcfg.AllowedOrigins = cfg.AllowedOrigins
	pcfg.CookieDomain = cfg.Cookie.Domain
	pcfg.CookieSecure = cfg.Cookie.Secure && !serveDev
	pcfg.SessionTTL = cfg.SessionTTL()

	if !serveDev {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := proxy.NewRouter(pcfg, deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("recovery proxy listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("dev", serveDev))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serviceLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development || serveDev {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (redis.UniversalClient, func(), error) {
	addr := cfg.Addr
	var mr *miniredis.Miniredis
	if serveDev {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		log.Info("using in-process redis", zap.String("addr", addr))
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	cleanup := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, cleanup, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate cookie secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
