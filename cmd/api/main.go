package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classroll/internal/auth"
	"classroll/internal/backend"
	"classroll/internal/cloudinary"
	"classroll/internal/config"
	"classroll/internal/httpapi"
	"classroll/internal/httpmiddleware"
	"classroll/internal/justification"
	"classroll/internal/logging"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/reportjob"
	"classroll/internal/session"
	"classroll/internal/store"
)

const sessionIdle = 2 * time.Hour

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	api := backend.New(cfg.BackendURL, cfg.BackendTimeout, auth.ContextTokens{})
	sessions := session.NewManager(func(teacherID string) *session.Session {
		return session.New(teacherID, api, session.Options{
			PageSize:  cfg.RosterPageSize,
			Previewer: justification.Previewer{MaxPx: cfg.PreviewMaxPx},
			Metrics:   m,
			Log:       logger,
		})
	})
	go sweepSessions(ctx, sessions, logger)

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	dbOK := err == nil
	if !dbOK {
		logger.Warn("database not reachable, report jobs disabled", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	jobs := reportJobs(ctx, cfg, db, dbOK, redisClient, m, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: !allowsAll(cfg.CORSOrigins),
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	checks := map[string]func(*gin.Context) bool{}
	if dbOK {
		checks["db"] = func(c *gin.Context) bool { return db.Healthy(c.Request.Context()) }
	}
	if cfg.QueueBackend == "redis" {
		checks["redis"] = func(c *gin.Context) bool { return redisClient.Healthy(c.Request.Context()) }
	}
	r.GET("/healthz", httpapi.Health{Checks: checks}.Handle)

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	httpapi.New(sessions, jobs, logger).Register(r,
		auth.TeacherAuth(cfg.JWTSigningKey, cfg.JWTIssuer),
		limiter.GinMiddleware(),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("backend", cfg.BackendURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

// reportJobs wires async range reports. With the in-memory queue the
// processor runs inside the API process.
func reportJobs(ctx context.Context, cfg config.App, db *store.DB, dbOK bool, rdb *store.Redis,
	m *metrics.Metrics, logger *zap.Logger) *reportjob.Service {
	if !dbOK {
		return nil
	}
	repo := reportjob.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Warn("report job schema unavailable, report jobs disabled", zap.Error(err))
		return nil
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		if !cfg.CloudinaryConfigured() {
			logger.Warn("cloudinary not configured, report jobs disabled")
			return nil
		}
		mem := queue.NewInMemory(64)
		msgs, err := mem.Consume(ctx)
		if err != nil {
			logger.Warn("in-process queue unavailable", zap.Error(err))
			return nil
		}
		worker := backend.New(cfg.BackendURL, cfg.BackendTimeout, &auth.ServiceTokens{
			Subject: "classroll-api",
			Issuer:  cfg.JWTIssuer,
			Key:     cfg.JWTSigningKey,
			TTL:     cfg.ServiceTokenTTL,
		})
		cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		go reportjob.NewProcessor(repo, worker, cdn, m, logger).Run(ctx, msgs)
		q = mem
	} else {
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultKey)
	}
	return reportjob.NewService(repo, q, logger)
}

func sweepSessions(ctx context.Context, sessions *session.Manager, logger *zap.Logger) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := sessions.Sweep(sessionIdle); n > 0 {
				logger.Debug("dropped idle sessions", zap.Int("count", n))
			}
		}
	}
}

func allowsAll(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
