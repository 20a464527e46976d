package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) getProcesses(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	grouped, err := h.Processes.Grouped(c.Request.Context(), limit)
	if err != nil {
		internalError(c, "failed to scan processes", err)
		return
	}
	breakdown, err := h.Processes.Breakdown(c.Request.Context())
	if err != nil {
		internalError(c, "failed to compute resource breakdown", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processes": grouped,
		"breakdown": breakdown,
		"detected_training": h.Training.GetDetectedTasks(),
	})
}

func (h *Handlers) getProcessChildren(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		badRequest(c, "invalid pid")
		return
	}
	children, err := h.Processes.Children(c.Request.Context(), int32(pid))
	if err != nil {
		internalError(c, "failed to list process children", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pid": pid, "children": children})
}

func (h *Handlers) prepareKillProcess(c *gin.Context) {
	pid := c.Param("pid")
	if _, err := strconv.Atoi(pid); err != nil {
		badRequest(c, "invalid pid")
		return
	}
	token, err := h.Tokens.Issue("kill:" + pid)
	if err != nil {
		tooManyRequests(c, "too many pending confirmations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmation_token": token})
}

type confirmRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *Handlers) killProcess(c *gin.Context) {
	pid := c.Param("pid")
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestDetail(c, "confirmation token required", err.Error())
		return
	}
	action, err := h.Tokens.Redeem(req.Token)
	if err != nil {
		badRequest(c, "invalid or expired confirmation token")
		return
	}
	if action != "kill:"+pid {
		forbidden(c, "confirmation token does not match target pid")
		return
	}
	if err := h.Killer.StopTask("pid_"+pid, true); err != nil {
		internalError(c, "failed to kill process", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"killed": pid})
}
