// Package api exposes run history, match records and merchant profiles
// over HTTP, and lets a dashboard trigger reconciliation runs.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ledgermatch/recon-backend/internal/application/recon"
	"github.com/ledgermatch/recon-backend/internal/domain/merchant"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
)

// Runner triggers a reconciliation run. Satisfied by the orchestrator.
type Runner interface {
	Run(ctx context.Context, opts recon.Options) (*recon.Result, error)
}

// Server wires the storage layer and the runner into a gin router.
type Server struct {
	repo   storage.Repository
	runner Runner
	logger *slog.Logger
}

// NewServer creates an API server. runner may be nil, in which case the
// reconcile endpoint reports the capability as unavailable.
func NewServer(repo storage.Repository, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{repo: repo, runner: runner, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health"},
	}))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", s.getHealth)

	api := router.Group("/api")
	{
		api.GET("/runs", s.getRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/matches", s.getMatches)
		api.GET("/stats", s.getStats)
		api.GET("/profiles/:key", s.getProfile)
		api.POST("/reconcile", s.postReconcile)
	}

	return router
}

func (s *Server) getHealth(c *gin.Context) {
	if err := s.repo.Healthy(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) getRuns(c *gin.Context) {
	limit := queryLimit(c, 20)
	runs, err := s.repo.ListRuns(limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch runs"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.repo.GetRun(id)
	if err != nil {
		s.logger.Error("failed to fetch run", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getMatches(c *gin.Context) {
	limit := queryLimit(c, 100)
	matches, err := s.repo.ListMatches(limit)
	if err != nil {
		s.logger.Error("failed to list matches", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch matches"})
		return
	}
	c.JSON(http.StatusOK, matches)
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.repo.Stats()
	if err != nil {
		s.logger.Error("failed to compute stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getProfile(c *gin.Context) {
	key := merchant.Normalize(c.Param("key"))
	profile, err := s.repo.GetProfile(key)
	if err != nil {
		s.logger.Error("failed to fetch merchant profile", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch profile"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "merchant not known"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// reconcileRequest is the POST /api/reconcile body.
type reconcileRequest struct {
	DryRun        bool   `json:"dry_run"`
	Force         bool   `json:"force"`
	LookbackDays  int    `json:"days"`
	AccountFilter string `json:"account_filter"`
}

func (s *Server) postReconcile(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation runner not configured"})
		return
	}

	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.runner.Run(c.Request.Context(), recon.Options{
		DryRun:        req.DryRun,
		Force:         req.Force,
		LookbackDays:  req.LookbackDays,
		AccountFilter: req.AccountFilter,
	})
	if err != nil {
		s.logger.Error("reconciliation run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func queryLimit(c *gin.Context, fallback int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fallback)))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
