/**
 * 日志中间件
 * @author: sun977
 * @date: 2026.02.12
 * @description: 状态接口的访问日志，记录方法、路径、状态码和耗时
 */
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"neodecoy/internal/pkg/logger"
)

// LoggingConfig 日志配置
type LoggingConfig struct {
	// 跳过日志的路径
	SkipPaths []string `json:"skip_paths"`

	// 慢请求阈值
	SlowRequestThreshold time.Duration `json:"slow_request_threshold"`
}

// LoggingMiddleware 日志中间件
type LoggingMiddleware struct {
	config    *LoggingConfig
	skipPaths map[string]struct{}
}

// NewLoggingMiddleware 创建日志中间件
func NewLoggingMiddleware(config *LoggingConfig) *LoggingMiddleware {
	if config == nil {
		config = &LoggingConfig{
			SkipPaths:            []string{"/health", "/ping"},
			SlowRequestThreshold: time.Second,
		}
	}

	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = struct{}{}
	}
	return &LoggingMiddleware{config: config, skipPaths: skip}
}

// Handler 日志处理器
func (m *LoggingMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if _, ok := m.skipPaths[path]; ok {
			return
		}

		duration := time.Since(startTime)
		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"type":          logger.AccessLog,
			"method":        c.Request.Method,
			"path":          path,
			"query":         c.Request.URL.RawQuery,
			"status_code":   status,
			"response_time": duration.Milliseconds(),
			"client_ip":     c.ClientIP(),
			"response_size": c.Writer.Size(),
		})

		// 根据状态码选择日志级别
		switch {
		case status >= 500:
			entry.Error("HTTP request processed")
		case status >= 400:
			entry.Warn("HTTP request processed")
		case m.config.SlowRequestThreshold > 0 && duration > m.config.SlowRequestThreshold:
			entry.Warn("Slow request detected")
		default:
			entry.Info("HTTP request processed")
		}
	}
}
