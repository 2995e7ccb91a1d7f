package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/universal-ai/gateway/internal/admin"
	"github.com/universal-ai/gateway/internal/models"
	"go.uber.org/zap"
)

const (
	defaultTopUp      = 10
	defaultDailyLimit = 50
	defaultLogLimit   = 100
	maxLogLimit       = 1000
)

// session returns the admin session stored by adminAuthMiddleware
func session(c *gin.Context) *admin.Session {
	return c.MustGet(ctxAdminSession).(*admin.Session)
}

// queryInt64 parses an optional integer query parameter. ok is false when
// the parameter is absent.
func queryInt64(c *gin.Context, name string) (n int64, ok bool, err error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(raw, 10, 64)
	return n, err == nil, err
}

// ==================== Usage view ====================

func (s *Server) keyUsage(c *gin.Context) {
	key := extractAPIKey(c)
	if key == "" {
		respondCode(c, models.ErrorCodeMissingAPIKey, "API key required")
		return
	}

	record, err := s.authorizer.Authorize(key, 0)
	if err != nil {
		s.respondError(c, err)
		return
	}

	now := time.Now()
	summary, err := s.usage.Summary(c.Request.Context(), key, now)
	if err != nil {
		s.respondError(c, err)
		return
	}
	daily := record.Daily(summary.RequestsToday, models.DayOf(now))

	c.JSON(http.StatusOK, gin.H{
		"api_key":            models.MaskKey(record.Key),
		"name":               record.Name,
		"credits":            record.Credits,
		"usage_count":        record.UsageCount,
		"created_at":         record.CreatedAt,
		"last_used":          record.LastUsed,
		"expires_at":         record.ExpiresAt,
		"requests_today":     summary.RequestsToday,
		"total_requests":     summary.TotalRequests,
		"total_credits_used": summary.TotalCreditsUsed,
		"daily_used":         daily.Used,
		"daily_limit":        daily.Limit,
		"remaining_today":    daily.Remaining,
	})
}

// ==================== Providers ====================

func (s *Server) redirectToProvider(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := s.providers.BuildURL(endpoint, c.Request.URL.Query())
		if err != nil {
			// unreachable for validated templates: every placeholder is
			// required or defaulted and required params were checked
			s.logger.Error("Failed to build provider URL",
				zap.String("endpoint", endpoint),
				zap.Error(err))
			respondCode(c, models.ErrorCodeInvalidRequest, err.Error())
			return
		}
		c.Redirect(http.StatusFound, target)
	}
}

// ==================== Admin ====================

func (s *Server) generateKey(c *gin.Context) {
	var initial, limit *int64
	n, ok, err := queryInt64(c, "initial_credits")
	if err != nil {
		respondCode(c, models.ErrorCodeInvalidRequest, "initial_credits must be an integer")
		return
	}
	if ok {
		initial = &n
	}
	l, ok, err := queryInt64(c, "daily_limit")
	if err != nil {
		respondCode(c, models.ErrorCodeInvalidRequest, "daily_limit must be an integer")
		return
	}
	if ok {
		limit = &l
	}

	key, err := session(c).GenerateKey(c.Query("key_name"), initial, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key":     key.Key,
		"name":        key.Name,
		"credits":     key.Credits,
		"daily_limit": key.DailyLimit,
		"created_at":  key.CreatedAt,
		"expires_at":  key.ExpiresAt,
	})
}

func (s *Server) listKeys(c *gin.Context) {
	reports, err := session(c).KeyReports(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  reports,
		"total": len(reports),
	})
}

// requireKey reads the api_key parameter an admin operation acts on
func requireKey(c *gin.Context) (string, bool) {
	key := c.Query("api_key")
	if key == "" {
		respondCode(c, models.ErrorCodeInvalidRequest, "api_key is required")
		return "", false
	}
	return key, true
}

func (s *Server) addCredits(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	amount, ok, err := queryInt64(c, "credits_to_add")
	if err != nil {
		respondCode(c, models.ErrorCodeInvalidRequest, "credits_to_add must be an integer")
		return
	}
	if !ok {
		amount = defaultTopUp
	}

	updated, err := session(c).AddCredits(key, amount)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key":       models.MaskKey(updated.Key),
		"credits_added": amount,
		"credits":       updated.Credits,
	})
}

func (s *Server) setDailyLimit(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	limit, ok, err := queryInt64(c, "new_limit")
	if err != nil {
		respondCode(c, models.ErrorCodeInvalidRequest, "new_limit must be an integer")
		return
	}
	if !ok {
		limit = defaultDailyLimit
	}

	updated, err := session(c).SetDailyLimit(key, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key":     models.MaskKey(updated.Key),
		"daily_limit": updated.DailyLimit,
	})
}

func (s *Server) resetDailyUsage(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	updated, err := session(c).ResetDailyUsage(c.Request.Context(), key)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key":  models.MaskKey(updated.Key),
		"reset_at": time.Now().UTC(),
	})
}

func (s *Server) stats(c *gin.Context) {
	st, err := session(c).Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getLogs(c *gin.Context) {
	limit := defaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondCode(c, models.ErrorCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	requests, err := s.usage.Recent(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	for i := range requests {
		requests[i].Key = models.MaskKey(requests[i].Key)
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":     s.logs.Recent(limit),
		"requests": requests,
	})
}
