package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/configs"
	"github.com/ridesafe/fraud-engine/internal/analytics"
	"github.com/ridesafe/fraud-engine/internal/auth"
	"github.com/ridesafe/fraud-engine/internal/ingestion"
	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/pipeline"
	"github.com/ridesafe/fraud-engine/internal/queue"
	"github.com/ridesafe/fraud-engine/internal/repositories"
	"github.com/ridesafe/fraud-engine/internal/scoring"
	"github.com/ridesafe/fraud-engine/internal/services"
)

func main() {
	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting fraud engine API server")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis cache")
	}
	defer cacheClient.Close()

	kafkaPublisher, err := queue.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer kafkaPublisher.Close()

	userRepo := repositories.NewUserRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	assessmentRepo := repositories.NewAssessmentRepository(db)
	modelRepo := repositories.NewModelRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	registry := scoring.NewRegistry(cfg.Model.Dir)
	if err := registry.Load(); err != nil {
		log.Warn().Err(err).Msg("Could not load persisted model, starting untrained")
	}
	trainer := scoring.NewTrainer(cfg.Model.Estimators, cfg.Model.MaxDepth, cfg.Model.MinLabeled)
	aggregator := scoring.NewRuleAggregator(cfg.Risk.LowRiskThreshold, cfg.Risk.HighRiskThreshold)
	scorer := scoring.NewHybridScorer(aggregator, registry)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authService := services.NewAuthService(userRepo, jwtManager)
	ingestionService := ingestion.NewService(txRepo, auditRepo, streamClient)
	analyticsService := analytics.NewService(assessmentRepo, cacheClient)
	pipelineService := services.NewPipelineService(cfg, scorer, txRepo, assessmentRepo, kafkaPublisher, auditRepo)
	modelService := services.NewModelService(registry, trainer, assessmentRepo, txRepo, modelRepo, auditRepo)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	setupRoutes(router, cfg, jwtManager, authService, ingestionService, analyticsService, pipelineService, modelService, streamClient, auditRepo, db)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop the replay loop before closing its sinks.
	if err := pipelineService.Stop(context.Background()); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
		log.Error().Err(err).Msg("Failed to stop pipeline")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	cfg *configs.Config,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	ingestionService *ingestion.Service,
	analyticsService *analytics.Service,
	pipelineService *services.PipelineService,
	modelService *services.ModelService,
	streamClient *queue.RedisStreamClient,
	auditRepo *repositories.AuditRepository,
	db *repositories.Database,
) {
	router.GET("/health", healthHandler(db, streamClient))

	v1 := router.Group("/api/v1")

	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", auth.Middleware(jwtManager), refreshTokenHandler(authService))
	}

	protected := v1.Group("")
	protected.Use(auth.Middleware(jwtManager))

	txRoutes := protected.Group("/transactions")
	{
		txRoutes.POST("", ingestTransactionHandler(ingestionService))
		txRoutes.POST("/batch", ingestBatchHandler(ingestionService))
		txRoutes.GET("/recent", getRecentTransactionsHandler(ingestionService))
		txRoutes.GET("/:id", getTransactionHandler(ingestionService))
	}

	pipelineRoutes := protected.Group("/pipeline")
	pipelineRoutes.Use(auth.RequireRoles(models.RoleAdmin, models.RoleAnalyst))
	{
		pipelineRoutes.POST("/start", startPipelineHandler(pipelineService))
		pipelineRoutes.POST("/stop", stopPipelineHandler(pipelineService))
		pipelineRoutes.POST("/reset", resetPipelineHandler(pipelineService))
		pipelineRoutes.GET("/status", pipelineStatusHandler(pipelineService))
	}

	mlRoutes := protected.Group("/ml")
	{
		mlRoutes.POST("/train", auth.RequireRoles(models.RoleAdmin, models.RoleAnalyst), trainModelHandler(modelService))
		mlRoutes.GET("/status", modelStatusHandler(modelService))
		mlRoutes.POST("/predict/:id", predictHandler(modelService))
	}

	analyticsRoutes := protected.Group("/analytics")
	{
		analyticsRoutes.GET("/summary", getRiskSummaryHandler(analyticsService))
		analyticsRoutes.GET("/distribution", getDistributionHandler(analyticsService))
		analyticsRoutes.GET("/rules/top", getTopRulesHandler(analyticsService))
		analyticsRoutes.GET("/assessments", getAssessmentsHandler(analyticsService))
		analyticsRoutes.GET("/volume/hourly", getHourlyVolumeHandler(analyticsService))
		analyticsRoutes.GET("/live", getLiveCountersHandler(analyticsService))
		analyticsRoutes.GET("/events/recent", getRecentEventsHandler(analyticsService))
	}

	auditRoutes := protected.Group("/audit")
	auditRoutes.Use(auth.RequireRoles(models.RoleAdmin))
	{
		auditRoutes.GET("", listAuditLogsHandler(auditRepo))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString("request_id")).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Handlers

func healthHandler(db *repositories.Database, streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		checks := gin.H{}

		if err := db.HealthCheck(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
		if _, err := streamClient.GetStreamInfo(c.Request.Context()); err != nil {
			checks["stream"] = err.Error()
		} else {
			checks["stream"] = "ok"
		}

		c.JSON(status, gin.H{
			"status":    map[bool]string{true: "healthy", false: "degraded"}[status == http.StatusOK],
			"checks":    checks,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrWeakPassword) ||
				errors.Is(err, services.ErrUnknownRole) ||
				errors.Is(err, repositories.ErrDuplicateEmail) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(auth.AuthorizationHeader)
		if len(token) > len(auth.BearerPrefix) {
			token = token[len(auth.BearerPrefix):]
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func ingestTransactionHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestion.TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := ingestionService.IngestTransaction(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ingestion.ErrBadTimestamp) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func ingestBatchHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestion.BatchTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := ingestionService.IngestBatch(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func getTransactionHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := ingestionService.GetTransaction(c.Request.Context(), c.Param("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrTransactionNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, tx)
	}
}

func getRecentTransactionsHandler(ingestionService *ingestion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		transactions, total, err := ingestionService.GetRecentTransactions(c.Request.Context(), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transactions": transactions,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func startPipelineHandler(pipelineService *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := pipelineService.Start(c.Request.Context()); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Pipeline started",
			"status":  pipelineService.Status(),
		})
	}
}

func stopPipelineHandler(pipelineService *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := pipelineService.Stop(c.Request.Context()); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrNotRunning) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Pipeline stopped",
			"status":  pipelineService.Status(),
		})
	}
}

func resetPipelineHandler(pipelineService *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := pipelineService.Reset(c.Request.Context()); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pipeline.ErrAlreadyRunning) || errors.Is(err, services.ErrPipelineNotLoaded) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Pipeline reset"})
	}
}

func pipelineStatusHandler(pipelineService *services.PipelineService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, pipelineService.Status())
	}
}

func trainModelHandler(modelService *services.ModelService) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := modelService.Train(c.Request.Context())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, scoring.ErrInsufficientData) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Model trained",
			"metrics": metrics,
		})
	}
}

func modelStatusHandler(modelService *services.ModelService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, modelService.Status())
	}
}

func predictHandler(modelService *services.ModelService) gin.HandlerFunc {
	return func(c *gin.Context) {
		txID := c.Param("id")

		probability, err := modelService.Predict(c.Request.Context(), txID)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, scoring.ErrModelUnavailable):
				status = http.StatusConflict
			case errors.Is(err, services.ErrTransactionNotScored),
				errors.Is(err, repositories.ErrTransactionNotFound):
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transaction_id":    txID,
			"fraud_probability": probability,
		})
	}
}

func getRiskSummaryHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		window := getWindowParam(c, 24*time.Hour)

		summary, err := analyticsService.GetRiskSummary(c.Request.Context(), window)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func getDistributionHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		window := getWindowParam(c, 24*time.Hour)

		summary, err := analyticsService.GetRiskSummary(c.Request.Context(), window)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total": summary.TotalTransactions,
			"distribution": gin.H{
				models.RiskLevelHigh:   summary.HighRiskCount,
				models.RiskLevelMedium: summary.MediumRiskCount,
				models.RiskLevelLow:    summary.LowRiskCount,
			},
		})
	}
}

func getTopRulesHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		window := getWindowParam(c, 7*24*time.Hour)
		limit := getIntParam(c, "limit", 10)

		rules, err := analyticsService.GetTopRules(c.Request.Context(), window, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

func getAssessmentsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		level := c.DefaultQuery("level", models.RiskLevelHigh)
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		assessments, total, err := analyticsService.GetAssessmentsByLevel(c.Request.Context(), level, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"assessments": assessments,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getHourlyVolumeHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		window := getWindowParam(c, 24*time.Hour)

		volumes, err := analyticsService.GetHourlyVolume(c.Request.Context(), window)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"volumes": volumes})
	}
}

func getLiveCountersHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		counters, err := analyticsService.LiveCounters(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"counters": counters})
	}
}

func getRecentEventsHandler(analyticsService *analytics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := getIntParam(c, "limit", 20)

		events, err := analyticsService.RecentEvents(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

func listAuditLogsHandler(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventType := c.Query("event_type")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 50)

		entries, total, err := auditRepo.List(c.Request.Context(), eventType, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"entries": entries,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

// Helpers

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		if result, err := strconv.Atoi(val); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}

// getWindowParam reads a trailing window like "24h" or "7d" from the
// query string.
func getWindowParam(c *gin.Context, defaultValue time.Duration) time.Duration {
	val := c.Query("window")
	if val == "" {
		return defaultValue
	}
	if days, ok := strings.CutSuffix(val, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
