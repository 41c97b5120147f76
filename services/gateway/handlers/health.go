package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/services/ollama"
)

// HandleHealth serves GET /health: unauthenticated daemon reachability for
// load balancers and the setup UI. Reports response time and the daemon's
// model count; failures answer 503 with operator suggestions.
func HandleHealth(clients *ollama.ClientCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := clients.For(c.Query("baseUrl"))
		start := time.Now()

		models, err := client.ListModels(c.Request.Context())
		elapsed := time.Since(start)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success":     false,
				"status":      "unhealthy",
				"error":       err.Error(),
				"url":         client.BaseURL(),
				"suggestions": connectionSuggestions(client.BaseURL()),
			})
			return
		}

		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.Name)
		}
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"status":       "healthy",
			"responseTime": elapsed.Milliseconds(),
			"modelCount":   len(names),
			"models":       names,
		})
	}
}
