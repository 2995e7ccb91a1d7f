package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/universal-ai/gateway/internal/models"
	"go.uber.org/zap"
)

// respondError aborts the request with the response mapped from err
func (s *Server) respondError(c *gin.Context, err error) {
	resp := models.NewErrorResponse(err)
	status := resp.Error.Code.HTTPStatus()
	if status >= 500 {
		s.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, resp)
}

// respondCode aborts the request with an explicit code and message
func respondCode(c *gin.Context, code models.ErrorCode, message string) {
	c.AbortWithStatusJSON(code.HTTPStatus(), &models.ErrorResponse{
		Error:     models.ErrorDetail{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
}
