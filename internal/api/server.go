// Package api exposes the matching engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/therapist-match-engine/internal/domain"
	"github.com/therapist-match-engine/internal/feedback"
	"github.com/therapist-match-engine/internal/middleware"
	"github.com/therapist-match-engine/internal/service"
	"github.com/therapist-match-engine/internal/weights"
)

// Services bundles the engine components the server exposes
type Services struct {
	Registry   *weights.Registry
	Matcher    *service.Matcher
	Analyzer   *service.CompatibilityAnalyzer
	Outcomes   *service.OutcomeTracker
	Collector  *service.FeedbackCollector
	Aggregator *service.Aggregator
	Feedback   feedback.Store
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	logger        *logrus.Logger
	pool          *pgxpool.Pool
	services      Services
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, pool *pgxpool.Pool, services Services, logger *logrus.Logger) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(middleware.RequestID())

	server := &Server{
		configManager: configManager,
		logger:        logger,
		pool:          pool,
		services:      services,
		router:        router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/matches", s.handleRank)
		v1.GET("/matches/:id", s.handleGetMatch)
		v1.GET("/clients/:client_id/matches", s.handleListClientMatches)

		v1.POST("/matches/:id/events/viewed", s.funnelHandler(s.services.Outcomes.RecordViewed))
		v1.POST("/matches/:id/events/contacted", s.funnelHandler(s.services.Outcomes.RecordContacted))
		v1.POST("/matches/:id/events/converted", s.funnelHandler(s.services.Outcomes.RecordConversion))
		v1.POST("/matches/:id/events/session-completed", s.funnelHandler(s.services.Outcomes.RecordSessionCompleted))
		v1.POST("/matches/:id/satisfaction", s.handleSatisfaction)

		v1.POST("/matches/:id/feedback", s.handleSubmitFeedback)
		v1.GET("/matches/:id/feedback", s.handleListFeedback)
		v1.GET("/feedback/export", s.handleExportFeedback)
		v1.POST("/feedback/import", s.handleImportFeedback)

		v1.POST("/weight-sets", s.handleDefineWeightSet)
		v1.POST("/weight-sets/:id/activate", s.handleActivateWeightSet)
		v1.GET("/weight-sets/active", s.handleActiveWeightSet)
		v1.GET("/weight-sets/activations", s.handleListActivations)

		v1.POST("/compatibility", s.handleAnalyzeCompatibility)
		v1.GET("/compatibility/:client_id/:therapist_id", s.handleGetCompatibility)

		v1.POST("/performance/windows", s.handleAggregateWindow)
		v1.GET("/performance/windows", s.handleListWindows)
		v1.GET("/therapists/top", s.handleTopTherapists)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}

// handleReady reports readiness, including database reachability
func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "database unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleRank scores and ranks a candidate pool for one client
func (s *Server) handleRank(c *gin.Context) {
	var req service.RankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := s.services.Matcher.Rank(c.Request.Context(), &req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"results": results})
}

func (s *Server) handleGetMatch(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := s.services.Outcomes.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListClientMatches(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	results, err := s.services.Outcomes.ListByClient(c.Request.Context(), c.Param("client_id"), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// funnelHandler adapts one outcome transition into a route handler
func (s *Server) funnelHandler(record func(context.Context, uuid.UUID) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := s.pathUUID(c, "id")
		if !ok {
			return
		}
		if err := record(c.Request.Context(), id); err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "recorded"})
	}
}

func (s *Server) handleSatisfaction(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var body struct {
		Score int `json:"score"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.services.Outcomes.RecordSatisfaction(c.Request.Context(), id, body.Score); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	var sub service.FeedbackSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub.MatchResultID = id

	record, err := s.services.Collector.SubmitFeedback(c.Request.Context(), &sub)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	records, err := s.services.Collector.ListForMatch(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": records})
}

func (s *Server) handleExportFeedback(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", "attachment; filename=feedback-export.json")
	if err := s.services.Feedback.ExportJSON(c.Request.Context(), c.Writer); err != nil {
		s.logger.WithError(err).Error("Feedback export failed")
		c.Status(http.StatusInternalServerError)
	}
}

func (s *Server) handleImportFeedback(c *gin.Context) {
	imported, skipped, err := s.services.Feedback.ImportJSON(c.Request.Context(), c.Request.Body)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}

func (s *Server) handleDefineWeightSet(c *gin.Context) {
	var body struct {
		Algorithm string         `json:"algorithm"`
		Label     string         `json:"label"`
		Weights   domain.Weights `json:"weights"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	set := &domain.WeightSet{
		Algorithm: body.Algorithm,
		Label:     body.Label,
		Weights:   body.Weights,
	}
	if err := s.services.Registry.Define(c.Request.Context(), set); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, set)
}

func (s *Server) handleActivateWeightSet(c *gin.Context) {
	id, ok := s.pathUUID(c, "id")
	if !ok {
		return
	}

	set, err := s.services.Registry.Activate(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (s *Server) handleActiveWeightSet(c *gin.Context) {
	algorithm := c.Query("algorithm")
	if algorithm == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "algorithm query parameter is required"})
		return
	}

	set, err := s.services.Registry.Active(c.Request.Context(), algorithm)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

func (s *Server) handleListActivations(c *gin.Context) {
	algorithm := c.Query("algorithm")
	if algorithm == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "algorithm query parameter is required"})
		return
	}

	activations, err := s.services.Registry.History(c.Request.Context(), algorithm, queryInt(c, "limit", 50))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activations": activations})
}

func (s *Server) handleAnalyzeCompatibility(c *gin.Context) {
	var body struct {
		Client    *domain.ClientProfile    `json:"client"`
		Therapist *domain.TherapistProfile `json:"therapist"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Client == nil || body.Therapist == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client and therapist profiles are required"})
		return
	}

	assessment, err := s.services.Analyzer.Analyze(c.Request.Context(), body.Client, body.Therapist)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handleGetCompatibility(c *gin.Context) {
	assessment, err := s.services.Analyzer.Get(c.Request.Context(), c.Param("client_id"), c.Param("therapist_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

func (s *Server) handleAggregateWindow(c *gin.Context) {
	var body struct {
		Algorithm        string    `json:"algorithm"`
		AlgorithmVersion int       `json:"algorithm_version"`
		PeriodStart      time.Time `json:"period_start"`
		PeriodEnd        time.Time `json:"period_end"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	window, err := s.services.Aggregator.Aggregate(c.Request.Context(),
		body.Algorithm, body.AlgorithmVersion, body.PeriodStart, body.PeriodEnd)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, window)
}

func (s *Server) handleListWindows(c *gin.Context) {
	algorithm := c.Query("algorithm")
	if algorithm == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "algorithm query parameter is required"})
		return
	}

	windows, err := s.services.Aggregator.List(c.Request.Context(), algorithm, queryInt(c, "limit", 50))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"windows": windows})
}

func (s *Server) handleTopTherapists(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		since = &parsed
	}

	top, err := s.services.Aggregator.TopTherapists(c.Request.Context(), since, queryInt(c, "limit", 10))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"therapists": top})
}

// respondError maps domain errors to HTTP status codes
func (s *Server) respondError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	var configErr *domain.ConfigError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error(), "field": validationErr.Field})
	case errors.As(err, &configErr):
		c.JSON(http.StatusConflict, gin.H{"error": configErr.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, domain.ErrNoActiveWeightSet):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrWindowOverlap),
		errors.Is(err, domain.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (s *Server) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be a valid UUID", name)})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
