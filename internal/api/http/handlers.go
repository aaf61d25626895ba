package http

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ptyd/internal/api/middleware"
	"github.com/GriffinCanCode/ptyd/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
	"github.com/GriffinCanCode/ptyd/internal/service"
	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

// Version is reported by the root endpoint.
var Version = "0.1.0"

const defaultDiscoverLimit = 5

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions *terminal.Registry
	services *service.Registry
	metrics  *monitoring.Metrics
	command  terminal.Command
	size     terminal.Size
	log      *zap.Logger
	started  time.Time
}

// Config wires the handlers to their dependencies.
type Config struct {
	Sessions *terminal.Registry
	Services *service.Registry
	Metrics  *monitoring.Metrics
	// Command and Size are used for sessions created implicitly by write
	// and key requests, and for POST /sessions fields left empty.
	Command terminal.Command
	Size    terminal.Size
	Logger  *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(cfg Config) *Handlers {
	if cfg.Services == nil {
		cfg.Services = service.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Size == (terminal.Size{}) {
		cfg.Size = terminal.DefaultSize()
	}
	return &Handlers{
		sessions: cfg.Sessions,
		services: cfg.Services,
		metrics:  cfg.Metrics,
		command:  cfg.Command,
		size:     cfg.Size,
		log:      cfg.Logger,
		started:  time.Now(),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(monitoring.Handler(h.metrics)))
	r.GET("/keys", h.ListKeys)

	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.POST("/:id/write", h.Write)
		sessions.POST("/:id/keys", h.SendKey)
		sessions.GET("/:id/read", h.Read)
		sessions.POST("/:id/resize", h.Resize)
	}

	r.GET("/services", h.ListServices)
	r.POST("/services/execute", h.ExecuteService)
}

// Root handles the liveness probe
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "ptyd",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"uptime_seconds":   time.Since(h.started).Seconds(),
		"goroutines":       runtime.NumGoroutine(),
		"sessions":         h.sessions.Len(),
		"idle_timeout_sec": h.sessions.IdleTimeout().Seconds(),
		"service_registry": h.services.Stats(),
		"metrics":          h.metrics.Snapshot(),
	})
}

// ListKeys lists the names accepted by SendKey
func (h *Handlers) ListKeys(c *gin.Context) {
	keys := terminal.KeyNames()
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// ListServices lists all available services. With ?intent= the services
// are ranked by relevance to it instead, at most ?limit= of them.
func (h *Handlers) ListServices(c *gin.Context) {
	if intent := c.Query("intent"); intent != "" {
		limit := defaultDiscoverLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				badRequest(c, fmt.Errorf("limit must be a positive integer"))
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{
			"intent":   intent,
			"services": h.services.Discover(intent, limit),
		})
		return
	}

	var category *types.Category
	if raw := c.Query("category"); raw != "" {
		cat := types.Category(raw)
		category = &cat
	}

	c.JSON(http.StatusOK, gin.H{
		"services": h.services.List(category),
		"stats":    h.services.Stats(),
	})
}

// ExecuteService executes a service tool
func (h *Handlers) ExecuteService(c *gin.Context) {
	var req types.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rid := middleware.GetRequestID(c)
	appCtx := &types.Context{RequestID: &rid}

	timer := monitoring.NewTimer(h.metrics, req.ToolID)
	result, err := h.services.Execute(c.Request.Context(), req.ToolID, req.Params, appCtx)
	if err != nil {
		timer.Stop("error")
		respondError(c, err)
		return
	}
	timer.Stop("success")

	c.JSON(http.StatusOK, result)
}
