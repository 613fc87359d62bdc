// Package middleware holds the gin middleware chain fronting the query
// facade: request correlation, structured access logging, panic recovery,
// CORS, and per-IP rate limiting.
package middleware

import (
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/tracing"
)

var httpTracer = tracing.GetTracer("http")

// Tracing starts one span per request, named after the matched route
// (the raw request path when no route matched).
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		spanName := c.FullPath()
		if spanName == "" {
			spanName = c.Request.URL.Path
		}
		ctx, span := httpTracer.Start(c.Request.Context(), spanName)
		defer span.End()
		span.SetAttributes(attribute.String("http.method", c.Request.Method))

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

// RequestID assigns a correlation id to every request, reusing an
// inbound X-Request-ID header when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// Logger emits one structured log line per request.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		log.Info("http request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// Recovery converts a panic in an HTTP handler into a 500 response. It
// covers the gin handler chain only, not the listener's goroutine.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", "error", r, "stack", string(debug.Stack()), "request_id", c.GetString("request_id"))
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":       "INTERNAL_ERROR",
					"message":    "internal server error",
					"request_id": c.GetString("request_id"),
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CORS allows the configured origins to read the facade's responses.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// limiterStore hands out one token-bucket limiter per client IP.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func newLimiterStore(perMin int) *limiterStore {
	return &limiterStore{limiters: make(map[string]*rate.Limiter), perMin: perMin}
}

func (s *limiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMin)), s.perMin)
		s.limiters[ip] = l
	}
	return l
}

// RateLimit enforces a fixed requests-per-minute budget per client IP.
// A perMin of 0 disables rate limiting entirely.
func RateLimit(perMin int) gin.HandlerFunc {
	if perMin <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	store := newLimiterStore(perMin)
	return func(c *gin.Context) {
		if !store.get(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMITED",
				"message": "too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
