package middleware

import (
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"shopflow/internal/apperr"
	"shopflow/internal/metrics"
	"shopflow/internal/rate"
)

// RateLimit отсекает запрос до хендлера, так что до хранилища он не доходит.
// Ошибка backend'а — отказ с 500, а не пропуск.
func RateLimit(class rate.Class, limiter rate.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rate.Key(class, c.ClientIP())
		allowed, retry, err := limiter.Allow(c.Request.Context(), key, time.Now())
		if err != nil {
			logger.Error("[ratelimit] backend failure", "class", class, "error", err)
			AbortWithError(c, apperr.Internal(err))
			return
		}
		if !allowed {
			metrics.RateLimited.WithLabelValues(string(class)).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(retry)))
			AbortWithError(c, apperr.New(apperr.KindTooManyRequests, "too many requests, try again later"))
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
