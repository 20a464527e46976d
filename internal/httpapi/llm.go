package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bannin-agent/bannin/internal/health"
	"github.com/bannin-agent/bannin/internal/model"
)

func (h *Handlers) getLLMUsage(c *gin.Context) {
	c.JSON(http.StatusOK, h.LLM.GetSummary(h.Alerts))
}

func (h *Handlers) getLLMCalls(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, h.LLM.GetCalls(limit))
}

func (h *Handlers) getLLMContext(c *gin.Context) {
	modelName := c.Query("model")
	if modelName == "" {
		badRequest(c, "model is required")
		return
	}
	tokens := 0
	if raw := c.Query("tokens"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid tokens")
			return
		}
		tokens = n
	}
	c.JSON(http.StatusOK, h.LLM.GetContextUsage(modelName, tokens))
}

func (h *Handlers) getLLMLatency(c *gin.Context) {
	modelFilter := c.Query("model")
	lastN := 20
	if raw := c.Query("last_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid last_n")
			return
		}
		lastN = n
	}
	c.JSON(http.StatusOK, h.LLM.GetLatencyTrend(modelFilter, lastN))
}

// getLLMHealth resolves the §4.6 "source" query parameter to a single
// signal ("mcp", "ollama", "api") or, absent a match, returns the
// worst-of aggregate across every available source.
func (h *Handlers) getLLMHealth(c *gin.Context) {
	source := c.Query("source")
	sources := h.combinedHealthSources()
	if source != "" {
		for _, s := range sources {
			if s.Label == source {
				c.JSON(http.StatusOK, s.Score)
				return
			}
		}
		notFound(c, "unknown or stale health source")
		return
	}
	combined, ok := health.Aggregate(sources)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"health_score": nil, "source": "none"})
		return
	}
	c.JSON(http.StatusOK, combined)
}

func (h *Handlers) getLLMConnections(c *gin.Context) {
	summary := h.LLM.GetSummary(h.Alerts)
	type connection struct {
		Provider   string `json:"provider"`
		Calls      int    `json:"calls"`
		TotalTokens int   `json:"total_tokens"`
	}
	conns := make([]connection, 0, len(summary.ByProvider))
	for provider, ps := range summary.ByProvider {
		conns = append(conns, connection{Provider: provider, Calls: ps.Calls, TotalTokens: ps.TotalTokens})
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// legacyMCPSessionID is the session id assigned to a push that omits
// session_id, matching the original implementation's default and kept
// as a distinct session id like any other.
const legacyMCPSessionID = "_legacy"

type mcpSessionPushRequest struct {
	SessionID              string                     `json:"session_id"`
	ClientLabel            string                     `json:"client_label"`
	SessionFatigue         float64                    `json:"session_fatigue"`
	ToolCallBurden         float64                    `json:"tool_call_burden"`
	EstimatedContextPct    float64                    `json:"estimated_context_pct"`
	SessionDurationMinutes float64                    `json:"session_duration_minutes"`
	TotalToolCalls         int                        `json:"total_tool_calls"`
	PerToolCounts          map[string]int             `json:"per_tool_counts"`
	DataSource             string                     `json:"data_source"`
	RealSessionData        *model.MCPRealSessionData  `json:"real_session_data"`
}

func (h *Handlers) postMCPSession(c *gin.Context) {
	var req mcpSessionPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestDetail(c, "invalid mcp session push", err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = legacyMCPSessionID
	}
	h.MCP.Push(model.MCPSession{
		SessionID:              req.SessionID,
		ClientLabel:            req.ClientLabel,
		SessionFatigue:         req.SessionFatigue,
		ToolCallBurden:         req.ToolCallBurden,
		EstimatedContextPct:    req.EstimatedContextPct,
		SessionDurationMinutes: req.SessionDurationMinutes,
		TotalToolCalls:         req.TotalToolCalls,
		PerToolCounts:          req.PerToolCounts,
		DataSource:             req.DataSource,
		RealSessionData:        req.RealSessionData,
	})
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func (h *Handlers) getMCPSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.MCP.List())
}
