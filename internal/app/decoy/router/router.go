/**
 * 状态接口路由注册
 * @author: sun977
 * @date: 2026.02.12
 * @description: 只读状态接口，统一管理健康检查和服务状态路由
 */
package router

import (
	"github.com/gin-gonic/gin"

	"neodecoy/internal/app/decoy/middleware"
	"neodecoy/internal/core/responder"
)

// StatusProvider 状态数据来源，由编排器实现
type StatusProvider interface {
	Bindings() []responder.Binding
	Stats() responder.Stats
	Registry() *responder.Registry
}

// RouterConfig 路由配置
type RouterConfig struct {
	// 是否启用调试模式
	Debug bool `json:"debug"`

	// API版本
	APIVersion string `json:"api_version"`

	// 路由前缀
	Prefix string `json:"prefix"`

	// 服务名，出现在 /health 和 /version 中
	ServiceName string `json:"service_name"`

	// 日志中间件配置，为 nil 时不记录访问日志
	Logging *middleware.LoggingConfig `json:"logging"`
}

// Router 状态接口路由器
type Router struct {
	engine *gin.Engine
	config *RouterConfig
	status StatusProvider
}

// NewRouter 创建新的路由器
func NewRouter(config *RouterConfig, status StatusProvider) *Router {
	if config == nil {
		config = &RouterConfig{}
	}
	if config.APIVersion == "" {
		config.APIVersion = "v1"
	}
	if config.Prefix == "" {
		config.Prefix = "/api"
	}
	if config.ServiceName == "" {
		config.ServiceName = "neoDecoy"
	}

	// 设置Gin模式
	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine: gin.New(),
		config: config,
		status: status,
	}
	r.registerRoutes()
	return r
}

// GetEngine 获取gin引擎
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// registerRoutes 注册路由
func (r *Router) registerRoutes() {
	r.engine.Use(gin.Recovery())
	if r.config.Logging != nil {
		r.engine.Use(middleware.NewLoggingMiddleware(r.config.Logging).Handler())
	}

	r.setupHealthRoutes()

	apiGroup := r.engine.Group(r.config.Prefix + "/" + r.config.APIVersion)
	r.setupStatusRoutes(apiGroup)
}
