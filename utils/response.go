package utils

import "github.com/gin-gonic/gin"

// RespondWithError aborts the request with {"error": message}
func RespondWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
