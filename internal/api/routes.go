package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/tariff-engine/internal/commit"
	"github.com/rawblock/tariff-engine/internal/db"
	"github.com/rawblock/tariff-engine/internal/evaluator"
	"github.com/rawblock/tariff-engine/internal/health"
	"github.com/rawblock/tariff-engine/internal/pipeline"
	"github.com/rawblock/tariff-engine/internal/watcher"
)

// APIHandler holds the subsystems the HTTP surface drives.
type APIHandler struct {
	store     *db.Store
	evaluator *evaluator.Evaluator
	engine    *commit.Engine
	runner    *watcher.Runner
	workers   []*pipeline.Worker
	reporter  *health.Reporter
	notifier  *Notifier
	wsHub     *Hub
}

// Deps bundles the router wiring.
type Deps struct {
	Store     *db.Store
	Evaluator *evaluator.Evaluator
	Engine    *commit.Engine
	Runner    *watcher.Runner
	Workers   []*pipeline.Worker
	Reporter  *health.Reporter
	Notifier  *Notifier
	Hub            *Hub
	AuthToken      string
	AllowedOrigins string
}

// SetupRouter builds the Gin router: a public group for health,
// metrics and the event stream, and a token-protected group for
// evaluation and admin operations.
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &APIHandler{
		store:     deps.Store,
		evaluator: deps.Evaluator,
		engine:    deps.Engine,
		runner:    deps.Runner,
		workers:   deps.Workers,
		reporter:  deps.Reporter,
		notifier:  deps.Notifier,
		wsHub:     deps.Hub,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/metrics", handler.handleMetrics)
		pub.GET("/stream", deps.Hub.Subscribe)
	}

	// ── Protected endpoints ────────────────────────────────────
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware(deps.AuthToken))
	// The evaluator performs several store reads per call; bound it.
	auth.Use(NewRateLimiter(120, 20).Middleware())
	{
		auth.POST("/evaluate", handler.handleEvaluate)

		auth.GET("/freshness", handler.handleFreshness)
		auth.GET("/runs", handler.handleListRuns)
		auth.GET("/runs/:id", handler.handleGetRun)

		auth.GET("/needs-review", handler.handleListReview)
		auth.GET("/needs-review/:id", handler.handleGetReview)
		auth.POST("/needs-review/:id/approve", handler.handleApprove)
		auth.POST("/needs-review/:id/reject", handler.handleReject)

		auth.GET("/audit-log", handler.handleAuditLog)
		auth.GET("/events", handler.handleRecentEvents)

		auth.POST("/pipeline/trigger-watcher", handler.handleTriggerWatcher)
		auth.POST("/pipeline/process-queue", handler.handleProcessQueue)
	}

	return r
}

// corsMiddleware mirrors the configured origins: empty or "*" allows
// all, otherwise the request origin must be on the comma-separated
// list.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// apiError writes the standard error envelope.
func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// abortError writes the envelope and stops the middleware chain.
func abortError(c *gin.Context, status int, code, message string) {
	apiError(c, status, code, message)
	c.Abort()
}
