package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OK sends a success JSON response. The ok flag is always set; callers add
// domain fields through the payload.
func OK(c *gin.Context, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["ok"] = true
	c.JSON(http.StatusOK, payload)
}

// Ignored acknowledges a valid but non-actionable payload. Responding with
// success here keeps the sender from retrying business no-ops.
func Ignored(c *gin.Context, reason string) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"ignored": true,
		"reason":  reason,
	})
}

// Fail sends an error JSON response
func Fail(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"ok":      false,
		"message": message,
	})
}
