package httpapi

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers every endpoint in §6's HTTP surface table
// under rg, plus the supplemented SSE stream and process-children
// lookup. rg should already carry any process-wide middleware (otelgin
// tracing, recovery); destructive-action endpoints get their own rate
// limiter applied here.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rateLimit := rate.Limit(destructiveActionRate)
	if h.DestructiveRatePerSec > 0 {
		rateLimit = rate.Limit(h.DestructiveRatePerSec)
	}
	burst := destructiveActionBurst
	if h.DestructiveBurst > 0 {
		burst = h.DestructiveBurst
	}
	killLimiter := newPerClientLimiter(rateLimit, burst)
	limited := rg.Group("/", rateLimitMiddleware(killLimiter))

	rg.GET("/health", h.getHealth)
	rg.GET("/status", h.getStatus)
	rg.GET("/metrics", h.getMetrics)

	rg.GET("/processes", h.getProcesses)
	rg.GET("/processes/:pid/children", h.getProcessChildren)
	limited.POST("/processes/:pid/kill/prepare", h.prepareKillProcess)
	limited.POST("/processes/:pid/kill", h.killProcess)

	rg.GET("/predictions/oom", h.getPredictionsOOM)
	rg.GET("/history/memory", h.getHistoryMemory)

	rg.GET("/alerts", h.getAlerts)
	rg.GET("/alerts/active", h.getAlertsActive)

	rg.GET("/tasks", h.getTasks)
	rg.POST("/tasks", h.postTasks)
	rg.GET("/tasks/:id", h.getTask)
	rg.POST("/tasks/detected/:pid/dismiss", h.dismissDetectedTask)

	rg.GET("/summary", h.getSummary)
	rg.GET("/recommendations", h.getRecommendations)
	rg.POST("/chat", h.postChat)

	llm := rg.Group("/llm")
	llm.GET("/usage", h.getLLMUsage)
	llm.GET("/calls", h.getLLMCalls)
	llm.GET("/context", h.getLLMContext)
	llm.GET("/latency", h.getLLMLatency)
	llm.GET("/health", h.getLLMHealth)
	llm.GET("/connections", h.getLLMConnections)

	mcp := rg.Group("/mcp")
	mcp.POST("/session", h.postMCPSession)
	mcp.GET("/sessions", h.getMCPSessions)

	rg.GET("/ollama", h.getOllama)

	rg.GET("/analytics/stats", h.getAnalyticsStats)
	rg.GET("/events", h.getEvents)
	rg.GET("/search", h.getSearch)
	rg.GET("/timeline", h.getTimeline)
	rg.GET("/stream", h.getStream)

	limited.POST("/actions/prepare", h.prepareAction)
	limited.POST("/actions/execute", h.executeAction)
	rg.GET("/disk/cleanup", h.getDiskCleanup)
}
