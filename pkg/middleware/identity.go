package middleware

import (
	"github.com/gin-gonic/gin"

	"smmpanel/pkg/errutil"
)

const userHeader = "X-User-ID"

// UserID extracts the calling user from the request. Authentication proper
// happens at the edge proxy; this layer trusts the forwarded header.
func UserID(c *gin.Context) (string, error) {
	id := c.GetHeader(userHeader)
	if id == "" {
		return "", errutil.Unauthorized("missing user identity")
	}
	return id, nil
}
