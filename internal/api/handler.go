package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"stock-reconciler/internal/models"
	"stock-reconciler/internal/service"
	"stock-reconciler/internal/store"
	"stock-reconciler/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatsLoader restores the last persisted cycle summary when the process
// has not completed a cycle yet.
type StatsLoader interface {
	LoadCycleStats(ctx context.Context) (*models.CycleStats, error)
}

// Handler contains HTTP handlers
type Handler struct {
	poller   *service.Poller
	ingestor *service.Ingestor
	guard    *service.AntiRollbackGuard
	store    *store.Store
	stats    StatsLoader

	// baseCtx outlives requests; the polling loop started from an admin
	// call must not die with the request context.
	baseCtx context.Context
}

// NewHandler creates a new HTTP handler
func NewHandler(baseCtx context.Context, poller *service.Poller, ingestor *service.Ingestor,
	guard *service.AntiRollbackGuard, st *store.Store, stats StatsLoader) *Handler {
	return &Handler{
		poller:   poller,
		ingestor: ingestor,
		guard:    guard,
		store:    st,
		stats:    stats,
		baseCtx:  baseCtx,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/receive", h.receiveWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync/start", h.startSync)
		v1.POST("/sync/stop", h.stopSync)
		v1.POST("/sync/restart", h.restartSync)
		v1.PUT("/sync/interval", h.setSyncInterval)
		v1.GET("/sync/status", h.syncStatus)
		v1.POST("/sync/products/:externalID", h.syncProduct)

		v1.GET("/webhooks/logs", h.webhookLogs)
		v1.GET("/webhooks/subscriptions", h.webhookSubscriptions)

		v1.POST("/stock/marks", h.markDecrement)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// receiveWebhook ingests one upstream push event. Delivery is always
// acknowledged with 200: the upstream only cares that the event was durably
// received, the business outcome lives in the audit log.
func (h *Handler) receiveWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	}

	var payload models.WebhookPayload
	if err := payload.UnmarshalFrom(body); err != nil {
		util.GetLogger().Warn("Malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	}

	processed := h.ingestor.Ingest(c.Request.Context(), &payload)
	c.JSON(http.StatusOK, gin.H{"success": processed})
}

// startSync starts the polling loop.
func (h *Handler) startSync(c *gin.Context) {
	h.poller.Start(h.baseCtx)
	c.JSON(http.StatusOK, gin.H{"running": h.poller.Running()})
}

// stopSync stops the polling loop, draining an in-flight cycle.
func (h *Handler) stopSync(c *gin.Context) {
	h.poller.Stop()
	c.JSON(http.StatusOK, gin.H{"running": h.poller.Running()})
}

// restartSync restarts the polling loop, optionally with a new interval.
func (h *Handler) restartSync(c *gin.Context) {
	interval := h.poller.Interval()
	if raw := c.Query("interval_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid interval_minutes"})
			return
		}
		interval = time.Duration(minutes) * time.Minute
	}

	h.poller.Restart(h.baseCtx, interval)
	c.JSON(http.StatusOK, gin.H{
		"running":          h.poller.Running(),
		"interval_minutes": int(h.poller.Interval().Minutes()),
	})
}

// setSyncInterval changes the poll interval without restarting the loop.
func (h *Handler) setSyncInterval(c *gin.Context) {
	var req struct {
		IntervalMinutes int `json:"interval_minutes" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.poller.SetInterval(time.Duration(req.IntervalMinutes) * time.Minute)
	c.JSON(http.StatusOK, gin.H{
		"interval_minutes": req.IntervalMinutes,
	})
}

// syncStatus reports the engine state for operators.
func (h *Handler) syncStatus(c *gin.Context) {
	lastCycle := h.poller.LastCycle()
	if lastCycle == nil && h.stats != nil {
		if persisted, err := h.stats.LoadCycleStats(c.Request.Context()); err == nil {
			lastCycle = persisted
		}
	}

	resp := gin.H{
		"running":          h.poller.Running(),
		"interval_minutes": int(h.poller.Interval().Minutes()),
		"last_cycle":       lastCycle,
	}

	if stats, err := h.store.GetStockStats(c.Request.Context()); err == nil {
		resp["products"] = stats
	}

	c.JSON(http.StatusOK, resp)
}

// syncProduct reconciles one product by external identifier on demand.
func (h *Handler) syncProduct(c *gin.Context) {
	externalID := c.Param("externalID")

	stats, err := h.poller.SyncProduct(c.Request.Context(), externalID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Product sync failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": stats})
}

// webhookLogs lists recent audit rows.
func (h *Handler) webhookLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	logs, err := h.store.GetWebhookLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load webhook logs",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// webhookSubscriptions lists active upstream registrations.
func (h *Handler) webhookSubscriptions(c *gin.Context) {
	subs, err := h.store.GetActiveSubscriptions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load subscriptions",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// markDecrement records a local stock decrement with the anti-rollback
// guard. Local consumers (e.g. a checkout) call this right after writing
// the decremented quantity.
func (h *Handler) markDecrement(c *gin.Context) {
	var req struct {
		ProductID int64 `json:"product_id" binding:"required"`
		Value     int   `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.guard.Mark(req.ProductID, req.Value)
	c.JSON(http.StatusOK, gin.H{
		"product_id":     req.ProductID,
		"value":          req.Value,
		"window_seconds": int(h.guard.Window().Seconds()),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
