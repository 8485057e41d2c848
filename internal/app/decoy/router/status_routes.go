package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"neodecoy/internal/pkg/logger"
	"neodecoy/internal/pkg/monitor"
)

// setupStatusRoutes 服务、连接、统计
func (r *Router) setupStatusRoutes(group *gin.RouterGroup) {
	group.GET("/services", r.handleServices)
	group.GET("/connections", r.handleConnections)
	group.GET("/stats", r.handleStats)
}

func (r *Router) handleServices(c *gin.Context) {
	if r.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "responder not running"})
		return
	}

	bindings := r.status.Bindings()
	c.JSON(http.StatusOK, gin.H{
		"total":     len(bindings),
		"services":  bindings,
		"timestamp": logger.NowFormatted(),
	})
}

// handleConnections 当前存活的 TCP 连接，可按 ?service= 过滤
func (r *Router) handleConnections(c *gin.Context) {
	if r.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "responder not running"})
		return
	}

	infos := r.status.Registry().Infos()
	if service := c.Query("service"); service != "" {
		filtered := infos[:0]
		for _, info := range infos {
			if info.Service == service {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"total":       len(infos),
		"connections": infos,
		"timestamp":   logger.NowFormatted(),
	})
}

func (r *Router) handleStats(c *gin.Context) {
	if r.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "responder not running"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":     r.status.Stats(),
		"host":      monitor.GetHostInfo(),
		"process":   monitor.GetProcessMetrics(),
		"timestamp": logger.NowFormatted(),
	})
}
