package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func bindURI(c *gin.Context, req any) bool {
	registerValidators()
	if err := c.ShouldBindUri(req); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return false
	}
	return true
}
