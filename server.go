package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creditfield/loan_backend/config"
	"github.com/creditfield/loan_backend/middlewares"
	"github.com/creditfield/loan_backend/models"
	"github.com/creditfield/loan_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func healthzHandler(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// readinessGate answers 503 until the database is connected. Redis is
// optional; without it locks are skipped and the rate limiter fails open.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			healthzHandler(c)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func corsConfigFromEnv() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production an explicit allowlist is required; elsewhere allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization",
		middlewares.HeaderVerifierId, middlewares.HeaderVerifierName, middlewares.HeaderCorrelationId)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.HeaderCorrelationId)
	corsConfig.AllowCredentials = true
	return corsConfig
}

func positiveIntFromEnv(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// newDispatcherFromEnv tunes the outbox dispatcher.
// Env:
// - OUTBOX_MAX_ATTEMPTS (default 20)
// - OUTBOX_BASE_BACKOFF_SECONDS (default 5)
// - OUTBOX_BATCH_SIZE (default 50)
func newDispatcherFromEnv(logger *logrus.Logger) *workflow.OutboxDispatcher {
	d := workflow.NewOutboxDispatcher(config.GetDB(), logger, workflow.PubSubPublisher{})
	d.MaxAttempts = int(positiveIntFromEnv("OUTBOX_MAX_ATTEMPTS", int64(d.MaxAttempts)))
	d.InitialBackoff = time.Duration(positiveIntFromEnv("OUTBOX_BASE_BACKOFF_SECONDS", 5)) * time.Second
	d.BatchSize = int(positiveIntFromEnv("OUTBOX_BATCH_SIZE", int64(d.BatchSize)))
	return d
}

func registerRoutes(r *gin.Engine, svc *workflow.Service) {
	r.GET("/healthz", healthzHandler)

	inv := r.Group("/investigations", middlewares.VerifierMiddleware(), middlewares.LoaderMiddleware(svc, svc))
	inv.POST("", createInvestigationHandler(svc))
	inv.GET("/summaries", getSummariesHandler())
	inv.GET("/:id", getInvestigationHandler(svc))
	inv.GET("/:id/summary", getSummaryHandler())
	inv.GET("/:id/history", historyHandler())
	inv.POST("/:id/fields/:fieldKey/capture", captureHandler(svc))
	inv.POST("/:id/fields/:fieldKey/block", blockHandler(svc))
	inv.POST("/:id/fields/:fieldKey/reopen", reopenHandler(svc))
	inv.POST("/:id/fields/:fieldKey/unblock", unblockHandler(svc))
	inv.PUT("/:id/comment", commentHandler(svc))
	inv.POST("/:id/finalize", finalizeHandler(svc))
	inv.POST("/:id/cancel", cancelHandler(svc))
	inv.GET("/:id/discrepancies", discrepanciesHandler(svc))
	inv.GET("/:id/discrepancies.xlsx", discrepanciesExcelHandler(svc))
	inv.POST("/:id/evidence/sign", evidenceSignHandler(svc))
	inv.POST("/:id/evidence/complete", evidenceCompleteHandler(svc))

	// Ops tooling: inspect and replay outbox events that ended FAILED/DEAD.
	ops := r.Group("/internal/ops", middlewares.VerifierMiddleware())
	ops.GET("/investigations/:id/outbox", outboxStatusHandler())
	ops.POST("/outbox/replay", outboxReplayHandler())

	r.NoRoute(customNotFoundHandler)
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	templates, err := models.DefaultTemplateRegistry(config.PhoneRegion())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "templates"}).Fatal("embedded section templates are invalid: " + err.Error())
	}
	svc := workflow.NewService(models.NewGormInvestigationStore(nil), templates, workflow.NewRedisLocker(nil), logger)

	// Start the HTTP server ASAP; until the DB is ready app endpoints answer 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(readinessGate())
	r.Use(cors.New(corsConfigFromEnv()))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := positiveIntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)
		windowSec := positiveIntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
		rateLimiter := NewRateLimiter(nil, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r, svc)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open. Redis is not awaited.
	go config.ConnectRedisWithRetry(sigCtx)
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running it as a separate job instead.
	if !config.SkipMigrations() {
		if err := models.MigrateTable(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal("AutoMigrate failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.OutboxEnabled() {
		go newDispatcherFromEnv(logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("PUBSUB_TOPIC not set; investigation events stay PENDING until a dispatcher runs")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("field reconciliation api listening on port ", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	config.CloseRedis()
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// A nil client means the shared connection, which may not be up yet.
func (rl *RateLimiter) redisClient() *redis.Client {
	if rl.client != nil {
		return rl.client
	}
	return config.GetRedisDB()
}

// RateLimitMiddleware counts requests per client IP in a fixed window. A
// missing or failing Redis lets the request through.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.redisClient()
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		_ = c.Error(err)
		c.Next()
		return
	}
	if count == 1 {
		_ = client.Expire(c.Request.Context(), key, rl.window).Err()
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
