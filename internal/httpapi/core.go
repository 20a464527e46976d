package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bannin-agent/bannin/internal/health"
)

var startedAt = time.Now()

func (h *Handlers) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) getStatus(c *gin.Context) {
	label, quota := h.Platform.Detect()
	resp := gin.H{
		"agent":         "bannin",
		"platform":      label,
		"uptime_seconds": time.Since(startedAt).Seconds(),
		"readings":      h.History.ReadingCount(),
	}
	if quota != nil {
		resp["platform_quota"] = quota
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) getMetrics(c *gin.Context) {
	snap, ok := h.History.GetLatest()
	if !ok {
		notFound(c, "no metrics collected yet")
		return
	}
	label, _ := h.Platform.Detect()
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "platform": label})
}

func (h *Handlers) getPredictionsOOM(c *gin.Context) {
	result := h.OOM.Predict()
	c.JSON(http.StatusOK, gin.H{
		"ram":                     result.RAM,
		"gpu":                     result.GPU,
		"data_points":             result.DataPoints,
		"min_data_points_required": result.MinDataPointsRequired,
	})
}

func (h *Handlers) getHistoryMemory(c *gin.Context) {
	minutes := 60.0
	if raw := c.Query("minutes"); raw != "" {
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil || m <= 0 {
			badRequest(c, "invalid minutes")
			return
		}
		minutes = m
	}
	c.JSON(http.StatusOK, h.History.GetFullHistory(minutes))
}

func (h *Handlers) getAlerts(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, h.Alerts.GetAlerts(limit))
}

func (h *Handlers) getAlertsActive(c *gin.Context) {
	snap, ok := h.History.GetLatest()
	if !ok {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, h.Alerts.GetActiveAlerts(snap))
}

func (h *Handlers) getSummary(c *gin.Context) {
	snap, _ := h.History.GetLatest()
	active := h.Alerts.GetActiveAlerts(snap)
	combined, ok := health.Aggregate(h.combinedHealthSources())

	resp := gin.H{
		"snapshot":     snap,
		"active_alerts": active,
		"tasks":        h.Tasks.GetTasks(),
	}
	if ok {
		resp["health"] = combined
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) getRecommendations(c *gin.Context) {
	combined, ok := health.Aggregate(h.combinedHealthSources())
	if !ok {
		c.JSON(http.StatusOK, gin.H{"recommendations": []string{}})
		return
	}
	recs := []string{}
	if combined.Recommendation != "" {
		recs = append(recs, combined.Recommendation)
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs, "health_score": combined.HealthScore, "source": combined.Source})
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

// postChat answers from the locally-known state rather than forwarding
// to any LLM provider — it reports what the agent already knows
// (summary, active alerts, combined health) instead of adding a new
// network dependency for a conversational surface.
func (h *Handlers) postChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestDetail(c, "invalid chat request", err.Error())
		return
	}
	snap, _ := h.History.GetLatest()
	active := h.Alerts.GetActiveAlerts(snap)
	combined, ok := health.Aggregate(h.combinedHealthSources())

	resp := gin.H{"reply": "", "active_alerts": len(active)}
	switch {
	case len(active) > 0:
		resp["reply"] = "There are " + strconv.Itoa(len(active)) + " active alert(s)."
	case ok:
		resp["reply"] = combined.Recommendation
	default:
		resp["reply"] = "Everything looks normal."
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) getOllama(c *gin.Context) {
	if h.Ollama == nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}
	c.JSON(http.StatusOK, h.Ollama.Status())
}
