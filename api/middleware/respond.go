package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
)

// abort stops the chain with an unsuccessful run response.
func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.RunResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: code, Message: message},
	})
}
