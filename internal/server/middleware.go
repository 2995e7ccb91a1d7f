package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/universal-ai/gateway/internal/admin"
	"github.com/universal-ai/gateway/internal/metrics"
	"github.com/universal-ai/gateway/internal/models"
	"github.com/universal-ai/gateway/internal/provider"
	"go.uber.org/zap"
)

const (
	ctxRequestID    = "request_id"
	ctxAPIKey       = "api_key"
	ctxAdminSession = "admin_session"

	headerRequestID = "X-Request-ID"
)

// loggerMiddleware logs HTTP requests and records their duration
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ctxRequestID, requestID)
		c.Header(headerRequestID, requestID)

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestDuration.WithLabelValues(route, strconv.Itoa(statusCode)).Observe(latency.Seconds())

		// query strings carry keys and admin passwords, never log them
		s.logger.Info("HTTP Request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// rateLimitMiddleware throttles each client IP with a token bucket
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			respondCode(c, models.ErrorCodeRateLimitExceeded, "Too many requests. Rate limit exceeded.")
			return
		}
		c.Next()
	}
}

// extractAPIKey reads the caller's key from the api_key query parameter,
// the X-API-Key header or a bearer token, in that order
func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.Query("api_key")); key != "" {
		return key
	}
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// paramsMiddleware rejects requests missing a provider parameter before
// any credit is taken
func (s *Server) paramsMiddleware(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.providers.Validate(endpoint, c.Request.URL.Query()); err != nil {
			var missing *provider.MissingParamsError
			if errors.As(err, &missing) {
				respondCode(c, models.ErrorCodeInvalidRequest, err.Error())
				return
			}
			s.respondError(c, err)
			return
		}
		c.Next()
	}
}

// creditMiddleware authorizes the caller's key for endpoint, deducting the
// endpoint's price. Handlers after it only run for authorized requests.
func (s *Server) creditMiddleware(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			respondCode(c, models.ErrorCodeMissingAPIKey, "API key required")
			return
		}

		record, err := s.authorizer.AuthorizeEndpoint(c.Request.Context(), key, endpoint)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.Set(ctxAPIKey, record)
		c.Header("X-Credits-Remaining", strconv.FormatInt(record.Credits, 10))
		c.Next()
	}
}

// adminAuthMiddleware checks the admin credential and stores the session
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := admin.Credential{
			Username: c.Query("admin_username"),
			Password: c.Query("admin_password"),
		}
		if cred.Username == "" && cred.Password == "" {
			cred.Username = c.GetHeader("X-Admin-Username")
			cred.Password = c.GetHeader("X-Admin-Password")
		}

		sess, err := s.admin.Authenticate(cred)
		if err != nil {
			s.logger.Warn("Invalid admin credentials",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			s.respondError(c, err)
			return
		}

		c.Set(ctxAdminSession, sess)
		c.Next()
	}
}
