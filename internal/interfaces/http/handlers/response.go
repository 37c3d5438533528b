// Package handlers implements the HTTP handlers of the admission service.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

// sendError writes err as a JSON error body. Server-side failures are logged
// and their details withheld from the response.
func sendError(c *gin.Context, log logger.Logger, op string, err error) {
	status, resp := errors.ToErrorResponse(err)
	if status >= 500 {
		log.Error(c.Request.Context(), "Request failed", err, logger.String("op", op))
	} else {
		log.Warn(c.Request.Context(), "Request rejected",
			logger.String("op", op),
			logger.Err(err),
		)
	}
	c.AbortWithStatusJSON(status, resp)
}
