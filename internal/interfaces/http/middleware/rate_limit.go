package middleware

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/turtacn/admit/internal/clock"
	"github.com/turtacn/admit/internal/domain/models"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

// Checker decides whether a request may proceed.
type Checker interface {
	Check(ctx context.Context, route, clientKey string) (models.Decision, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// ClientKeyHeader names a header carrying the client identity. When it
	// is empty or absent from the request the remote address is used.
	ClientKeyHeader string
	Clock           clock.Clock
	Logger          logger.Logger
}

// RateLimit admits or rejects each request through the checker. Admitted
// requests carry X-RateLimit-* headers; rejected ones get 429 with
// Retry-After. A failing checker yields a generic 500, never a 429.
func RateLimit(checker Checker, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	log := cfg.Logger.WithComponent("rate_limit")

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		clientKey := clientKeyOf(c, cfg.ClientKeyHeader)
		c.Set(string(constants.ContextKeyClientKey), clientKey)

		d, err := checker.Check(ctx, route, clientKey)
		if err != nil {
			log.Error(ctx, "Admission check failed", err,
				logger.String("route", route),
				logger.String("client_key", clientKey),
			)
			status, resp := errors.ToErrorResponse(errors.ErrInternal("admission check failed").WithCause(err))
			c.AbortWithStatusJSON(status, resp)
			return
		}

		c.Header(constants.HeaderRateLimitLimit, strconv.FormatUint(d.Limit, 10))
		c.Header(constants.HeaderRateLimitRemaining, strconv.FormatUint(d.Remaining, 10))
		c.Header(constants.HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retryAfter := d.RetryAfter(cfg.Clock.Now())
			c.Header(constants.HeaderRetryAfter, strconv.FormatInt(errors.RetryAfterSeconds(retryAfter), 10))
			log.Warn(ctx, "Rate limit exceeded",
				logger.String("route", route),
				logger.String("client_key", clientKey),
				logger.String("class", string(d.Class)),
				logger.Uint64("limit", d.Limit),
			)
			status, resp := errors.ToErrorResponse(errors.ErrRateLimited(route, d.Limit, retryAfter))
			c.AbortWithStatusJSON(status, resp)
			return
		}

		c.Next()
	}
}

// ClientKey returns the identity RateLimit admitted the request under, or
// the remote address when the middleware did not run.
func ClientKey(c *gin.Context) string {
	if key := c.GetString(string(constants.ContextKeyClientKey)); key != "" {
		return key
	}
	return c.ClientIP()
}

func clientKeyOf(c *gin.Context, header string) string {
	if header != "" {
		if v := c.GetHeader(header); v != "" {
			return v
		}
	}
	return c.ClientIP()
}
