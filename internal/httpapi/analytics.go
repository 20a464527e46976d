package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bannin-agent/bannin/internal/analytics"
)

func (h *Handlers) getAnalyticsStats(c *gin.Context) {
	stats, err := h.Analytics.GetStats(c.Request.Context())
	if err != nil {
		internalError(c, "failed to compute analytics stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_events":  stats.TotalEvents,
		"by_type":       stats.ByType,
		"by_severity":   stats.BySeverity,
		"oldest_event":  stats.OldestEvent,
		"newest_event":  stats.NewestEvent,
		"db_size_mb":    stats.DBSizeMB,
		"db_path":       stats.DBPath,
		"fts_available": stats.FTSAvailable,
		"dropped_events": h.Pipeline.Dropped(),
	})
}

func (h *Handlers) getEvents(c *gin.Context) {
	filter := analytics.QueryFilter{
		Type:     c.Query("type"),
		Severity: c.Query("severity"),
		Source:   c.Query("source"),
		Limit:    50,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid offset")
			return
		}
		filter.Offset = n
	}
	if raw := c.Query("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			badRequestDetail(c, "invalid since", err.Error())
			return
		}
		filter.Since = &since
	}
	if raw := c.Query("until"); raw != "" {
		until, err := parseSince(raw)
		if err != nil {
			badRequestDetail(c, "invalid until", err.Error())
			return
		}
		filter.Until = &until
	}

	events, err := h.Analytics.Query(c.Request.Context(), filter)
	if err != nil {
		internalError(c, "failed to query events", err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handlers) getSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		badRequest(c, "q is required")
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	events, err := h.Analytics.Search(c.Request.Context(), query, limit)
	if err != nil {
		internalError(c, "search failed", err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handlers) getTimeline(c *gin.Context) {
	var since *float64
	if raw := c.Query("since"); raw != "" {
		s, err := parseSince(raw)
		if err != nil {
			badRequestDetail(c, "invalid since", err.Error())
			return
		}
		since = &s
	}
	limit := 200
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	var types []string
	if raw := c.Query("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	events, err := h.Analytics.GetTimeline(c.Request.Context(), since, limit, types)
	if err != nil {
		internalError(c, "failed to build timeline", err)
		return
	}
	c.JSON(http.StatusOK, events)
}
