package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/mrv_backend/analyzer"
	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/middlewares"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/mmdatafocus/mrv_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// app holds the services once their dependencies are connected.
type app struct {
	store     models.Store
	pipeline  *workflow.VerificationPipeline
	credits   *workflow.CarbonCreditEngine
	reports   *workflow.ComplianceReportBuilder
	community *workflow.CommunityService
	farmers   *workflow.FarmerService
	sensors   *workflow.SensorRecorder
	logger    *logrus.Logger
}

const appKey = "mrv_app"

var current atomic.Pointer[app]

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// staticFileStore serves evidence URLs without GCS credentials; used for
// local runs where uploads go straight to STORAGE_ACCESS_BASE_URL.
type staticFileStore struct{}

func (staticFileStore) UploadTarget(context.Context, int, string) (*utils.SignedUpload, error) {
	return nil, errors.New("signed uploads need GCS_BUCKET")
}

func (staticFileStore) ResolveURL(_ context.Context, imageRef string) (string, error) {
	key := utils.ExtractObjectKeyFromURL(imageRef)
	if key == "" {
		return "", utils.ErrorImageNotFound
	}
	return utils.BuildObjectAccessURL(key), nil
}

func newApp(ctx context.Context, logger *logrus.Logger, store models.Store, settings config.Pipeline) (*app, workflow.Queue, *workflow.LocalQueue) {
	var files workflow.FileStore = staticFileStore{}
	if gcs, err := utils.NewGCSFileStore(ctx); err != nil {
		logger.WithFields(logrus.Fields{"field": "storage"}).Warn("GCS file store disabled: " + err.Error())
	} else {
		files = gcs
	}

	var imageAnalyzer analyzer.ImageAnalyzer
	if oa, err := analyzer.NewOpenAIAnalyzer(); err != nil {
		// every record then resolves through the fallback path
		logger.WithFields(logrus.Fields{"field": "analyzer"}).Warn("image analyzer disabled: " + err.Error())
		imageAnalyzer = analyzer.Func(func(context.Context, analyzer.Request) (*analyzer.Output, error) {
			return nil, err
		})
	} else {
		imageAnalyzer = analyzer.NewRateLimited(oa, settings.AnalyzerRatePerM)
	}

	var queue workflow.Queue
	var local *workflow.LocalQueue
	if settings.Dispatch == config.DispatchPubSub {
		queue = workflow.NewPubSubQueue(logger)
	} else {
		local = workflow.NewLocalQueue(settings.QueueSize, settings.Workers, logger)
		queue = local
	}

	var sink workflow.SensorSink
	if influx := workflow.NewInfluxSensorSinkFromEnv(); influx != nil {
		sink = influx
	}

	rollups := workflow.NewRollups(store, workflow.NewDefaultLocker("mrv_rollup"), logger)
	pipeline := workflow.NewVerificationPipeline(store, imageAnalyzer, files, queue, logger)
	pipeline.Timeout = settings.AnalyzerTimeout

	return &app{
		store:     store,
		pipeline:  pipeline,
		credits:   workflow.NewCarbonCreditEngine(store, rollups, logger, settings),
		reports:   workflow.NewComplianceReportBuilder(store, logger),
		community: workflow.NewCommunityService(store, rollups, logger),
		farmers:   workflow.NewFarmerService(store, rollups, logger),
		sensors:   workflow.NewSensorRecorder(store, sink, logger),
		logger:    logger,
	}, queue, local
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

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	r := newRouter(logger)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running it as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable(db)
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	settings := config.PipelineSettings()
	if settings.Dispatch == config.DispatchPubSub {
		ensureAnalysisTopic(sigCtx, logger)
	}
	a, queue, local := newApp(sigCtx, logger, models.NewGormStore(db), settings)

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if local != nil {
		local.Start(workersCtx, a.pipeline.HandleTask)
	}
	go workflow.NewPendingAnalysisSweeper(a.store, queue, logger, settings.StaleAfter).Run(workersCtx)
	current.Store(a)

	logger.WithFields(logrus.Fields{
		"info":     "Connection Established",
		"dispatch": settings.Dispatch,
		"workers":  settings.Workers,
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the sweeper first so it doesn't enqueue while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// In-flight analyses finish; anything still buffered is picked up by the
	// sweeper of the next instance.
	if local != nil {
		local.Stop()
	}
	if closer, ok := a.sensors.Sink.(interface{ Close() }); ok {
		closer.Close()
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// ensureAnalysisTopic creates the analysis topic on first deploy. Publishing
// still works when the service account may not create topics.
func ensureAnalysisTopic(ctx context.Context, logger *logrus.Logger) {
	client, err := config.GetClient(ctx)
	if err != nil {
		config.LogError(logger, "server.go", "ensureAnalysisTopic", "GetClient", config.AnalysisTopicName(), err)
		return
	}
	tctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := config.CreateTopicIfNotExists(tctx, client, config.AnalysisTopicName()); err != nil {
		config.LogError(logger, "server.go", "ensureAnalysisTopic", "CreateTopicIfNotExists", config.AnalysisTopicName(), err)
	}
}

// readyHandler reports 204 once the services are wired and redis answers.
// /healthz stays a plain liveness check for the startup probe.
func readyHandler(c *gin.Context) {
	if current.Load() == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := config.PingRedis(ctx); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// newRouter builds the engine. Until the services are ready, app endpoints
// return 503.
func newRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz":
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		case "/metrics", "/readyz":
			c.Next()
			return
		}
		// set once DB and Redis are connected
		a := current.Load()
		if a == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Set(appKey, a)
		c.Next()
	})

	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
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
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "X-Correlation-Id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		r.Use(NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	registerRoutes(r)
	r.NoRoute(customNotFoundHandler)
	return r
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "rate:" + c.ClientIP()
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// redis trouble should not take the API down
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(c.Request.Context(), key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": "Rate limit exceeded. Try again in " + strconv.Itoa(int(rl.window.Seconds())) + " seconds",
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
