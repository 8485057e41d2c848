package setup

import (
	"net/http"
	"time"

	"neodecoy/internal/app/decoy/middleware"
	"neodecoy/internal/app/decoy/router"
	"neodecoy/internal/config"
)

// SetupServer 初始化状态接口，admin 未启用时返回 nil
func SetupServer(cfg *config.Config, status router.StatusProvider) *ServerModule {
	if cfg.Admin == nil || !cfg.Admin.Enabled {
		return nil
	}

	routerConfig := &router.RouterConfig{
		Debug:       cfg.App.Debug,
		ServiceName: cfg.App.Name,
		Logging: &middleware.LoggingConfig{
			SkipPaths:            []string{"/health", "/ping"},
			SlowRequestThreshold: time.Second,
		},
	}
	r := router.NewRouter(routerConfig, status)

	httpServer := &http.Server{
		Addr:              cfg.Admin.Address(),
		Handler:           r.GetEngine(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &ServerModule{
		Router:     r,
		HTTPServer: httpServer,
	}
}
