package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func setupRoutes(r *gin.Engine, h *handlers) {
	r.GET("/health", h.health)

	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")

	v1.POST("/events", h.ingestEvents)
	v1.GET("/notifications", h.notifications)

	tabs := v1.Group("/tabs/:tabId")
	tabs.GET("/records", h.getRecords)
	tabs.DELETE("/records", h.clearRecords)
	tabs.POST("/close", h.closeTab)
	tabs.POST("/analyze", h.analyze)

	v1.GET("/cache/stats", h.cacheStats)
	v1.DELETE("/cache", h.clearCache)

	v1.GET("/domains", h.listDomains)
	v1.POST("/domains", h.addDomains)
	v1.DELETE("/domains", h.removeDomains)
}
