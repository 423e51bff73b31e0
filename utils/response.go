package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse sends a structured JSON response
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError sends a structured error response; kind is the stable error name clients switch on
func JSONError(c *gin.Context, status int, kind string, err error, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"kind":    kind,
		"message": message,
		"error":   err.Error(),
	})
}

// AbortWithError sends a structured error response and stops the handler chain
func AbortWithError(c *gin.Context, status int, kind string, err error, message string) {
	JSONError(c, status, kind, err, message)
	c.Abort()
}
