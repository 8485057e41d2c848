/**
 * 路由:健康检查路由
 * @author: sun977
 * @date: 2026.02.12
 * @description: 健康检查、存活检查、版本信息
 */
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"neodecoy/internal/pkg/logger"
	"neodecoy/internal/pkg/version"
)

// setupHealthRoutes 设置健康检查路由
func (r *Router) setupHealthRoutes() {
	r.engine.GET("/health", r.handleHealth)
	r.engine.GET("/ping", r.handlePing)
	r.engine.GET("/version", r.handleVersion)
}

// handleHealth 健康检查处理器
// 停机信号触发后返回 503
func (r *Router) handleHealth(c *gin.Context) {
	status := http.StatusOK
	state := "healthy"
	if r.status != nil && r.status.Stats().ShuttingDown {
		status = http.StatusServiceUnavailable
		state = "shutting_down"
	}

	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": logger.NowFormatted(),
		"service":   r.config.ServiceName,
		"version":   version.GetVersion(),
	})
}

// handlePing Ping处理器
func (r *Router) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "pong",
		"timestamp": logger.NowFormatted(),
	})
}

// handleVersion 版本信息处理器
func (r *Router) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   r.config.ServiceName,
		"version":   version.GetInfo(),
		"timestamp": logger.NowFormatted(),
	})
}
