package httpapi

import "github.com/gin-gonic/gin"

// errorResponse is the {error, detail?} shape every failing handler
// returns, per §7's client-misuse taxonomy.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(400, errorResponse{Error: msg})
}

func badRequestDetail(c *gin.Context, msg, detail string) {
	c.JSON(400, errorResponse{Error: msg, Detail: detail})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(404, errorResponse{Error: msg})
}

func forbidden(c *gin.Context, msg string) {
	c.JSON(403, errorResponse{Error: msg})
}

func tooManyRequests(c *gin.Context, msg string) {
	c.JSON(429, errorResponse{Error: msg})
}

func internalError(c *gin.Context, msg string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.JSON(500, errorResponse{Error: msg, Detail: detail})
}
