package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/services/gateway/observability"
	"github.com/weam-ai/ollama-gateway/services/store"
)

// parseTimeRange maps the ?timeRange query values onto a since-timestamp.
// Unknown or missing values default to seven days; "all" means no cutoff.
func parseTimeRange(value string, now time.Time) time.Time {
	switch value {
	case "24h":
		return now.Add(-24 * time.Hour)
	case "7d", "":
		return now.Add(-7 * 24 * time.Hour)
	case "30d":
		return now.Add(-30 * 24 * time.Hour)
	case "all":
		return time.Time{}
	default:
		return now.Add(-7 * 24 * time.Hour)
	}
}

// HandleUsageAnalytics serves GET /analytics/usage?timeRange=24h|7d|30d|all.
func HandleUsageAnalytics(usage *store.UsageStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "analytics_usage"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		since := parseTimeRange(c.Query("timeRange"), time.Now().UTC())
		stats, err := usage.Stats(c.Request.Context(), ident.CompanyID, since)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

// HandleModelAnalytics serves GET /analytics/model/:modelName.
func HandleModelAnalytics(usage *store.UsageStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "analytics_model"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		stats, err := usage.ModelStats(c.Request.Context(), ident.CompanyID, c.Param("modelName"))
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

// HandleOverviewAnalytics serves GET /analytics/overview: all-time totals
// plus the top-models ranking.
func HandleOverviewAnalytics(usage *store.UsageStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		const endpoint = "analytics_overview"
		ident, ok := requireIdentity(c)
		if !ok {
			return
		}
		overview, err := usage.Overview(c.Request.Context(), ident.CompanyID)
		if err != nil {
			writeError(c, endpoint, err)
			return
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "overview": overview})
	}
}
