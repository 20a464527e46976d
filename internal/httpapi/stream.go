package httpapi

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
)

// getStream serves the pipeline's event feed as server-sent events: a
// subscriber tap is opened for the request's lifetime and closed on
// client disconnect or request-context cancellation.
func (h *Handlers) getStream(c *gin.Context) {
	events, cancel := h.Pipeline.Subscribe(64)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, ok := <-events:
			if !ok {
				return false
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				return true
			}
			c.SSEvent("event", string(payload))
			return true
		}
	})
}
