package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) getTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.Tasks.GetTasks())
}

type pushTaskRequest struct {
	Name    string   `json:"name" binding:"required"`
	Current float64  `json:"current"`
	Total   *float64 `json:"total"`
	PID     *int     `json:"pid"`
}

func (h *Handlers) postTasks(c *gin.Context) {
	var req pushTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestDetail(c, "invalid task push", err.Error())
		return
	}
	task := h.Tasks.UpsertExternal(req.Name, req.Current, req.Total, req.PID)
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) getTask(c *gin.Context) {
	id := c.Param("id")
	task, ok := h.Tasks.GetTask(id)
	if !ok {
		notFound(c, "unknown task")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) dismissDetectedTask(c *gin.Context) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil {
		badRequest(c, "invalid pid")
		return
	}
	if !h.Training.MarkFinished(pid) {
		notFound(c, "no detected task with that pid")
		return
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": pid})
}
