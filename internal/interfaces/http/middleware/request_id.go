// Package middleware holds the gin middleware of the admission HTTP edge.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/turtacn/admit/pkg/constants"
)

const maxRequestIDLen = 128

// RequestID propagates the caller's X-Request-ID or mints a new one. The id
// is echoed in the response and stored on both the gin and request contexts.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(constants.HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		c.Set(string(constants.ContextKeyRequestID), id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, id))
		c.Header(constants.HeaderRequestID, id)
		c.Next()
	}
}
