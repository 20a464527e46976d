package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
)

var supportedActions = map[string]bool{
	"kill_group":    true,
	"cleanup_cache": true,
	"dismiss":       true,
}

type actionPrepareRequest struct {
	Type   string `json:"type" binding:"required"`
	Target string `json:"target" binding:"required"`
}

func (h *Handlers) prepareAction(c *gin.Context) {
	var req actionPrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequestDetail(c, "invalid action request", err.Error())
		return
	}
	if !supportedActions[req.Type] {
		badRequest(c, "unsupported action type")
		return
	}
	token, err := h.Tokens.Issue(req.Type + ":" + req.Target)
	if err != nil {
		tooManyRequests(c, "too many pending confirmations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmation_token": token})
}

func (h *Handlers) executeAction(c *gin.Context) {
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

	actionType, target, ok := splitActionToken(action)
	if !ok {
		internalError(c, "malformed confirmation token payload", nil)
		return
	}

	switch actionType {
	case "kill_group":
		h.executeKillGroup(c, target)
	case "cleanup_cache":
		h.executeCleanupCache(c, target)
	case "dismiss":
		h.executeDismiss(c, target)
	default:
		badRequest(c, "unsupported action type")
	}
}

func splitActionToken(action string) (actionType, target string, ok bool) {
	for t := range supportedActions {
		prefix := t + ":"
		if len(action) > len(prefix) && action[:len(prefix)] == prefix {
			return t, action[len(prefix):], true
		}
	}
	return "", "", false
}

func (h *Handlers) executeKillGroup(c *gin.Context, groupName string) {
	grouped, err := h.Processes.Grouped(c.Request.Context(), 0)
	if err != nil {
		internalError(c, "failed to scan processes", err)
		return
	}
	for _, g := range grouped {
		if g.Name != groupName {
			continue
		}
		var failures []string
		for _, pid := range g.PIDs {
			if err := h.Killer.StopTask("pid_"+strconv.Itoa(int(pid)), true); err != nil {
				failures = append(failures, err.Error())
			}
		}
		c.JSON(http.StatusOK, gin.H{"killed_group": groupName, "pid_count": len(g.PIDs), "failures": failures})
		return
	}
	notFound(c, "no running process group with that name")
}

func (h *Handlers) executeCleanupCache(c *gin.Context, path string) {
	resolved, err := fenceCleanupTarget(path)
	if err != nil {
		forbidden(c, err.Error())
		return
	}
	if err := os.RemoveAll(resolved); err != nil {
		internalError(c, "failed to clean up cache directory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleaned": resolved})
}

func (h *Handlers) executeDismiss(c *gin.Context, pidStr string) {
	pid, err := strconv.Atoi(pidStr)
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

type cleanupTarget struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes"`
}

func (h *Handlers) getDiskCleanup(c *gin.Context) {
	home, err := os.UserHomeDir()
	if err != nil {
		internalError(c, "cannot resolve home directory", err)
		return
	}
	targets := make([]cleanupTarget, 0, len(recognizedCacheDirs))
	for _, suffix := range recognizedCacheDirs {
		path := filepath.Join(home, filepath.FromSlash(suffix))
		size, exists := dirSize(path)
		targets = append(targets, cleanupTarget{Path: path, Exists: exists, SizeBytes: size})
	}
	c.JSON(http.StatusOK, gin.H{"targets": targets})
}

func dirSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return 0, false
	}
	var total int64
	_ = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, true
}
