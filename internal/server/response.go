package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func respondDataWithWarnings(c *gin.Context, data any, warnings []string) {
	if len(warnings) == 0 {
		respondData(c, data)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "warnings": warnings})
}

func respondList(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}
