/**
 * 诱饵服务应用程序核心逻辑
 * @author: sun977
 * @date: 2026.02.12
 * @description: 负责初始化日志、核心编排器、状态接口和配置热更新，并串联启动与关闭流程
 */

package decoy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"neodecoy/internal/app/decoy/setup"
	"neodecoy/internal/config"
	"neodecoy/internal/core/responder"
	"neodecoy/internal/pkg/logger"
)

// App 诱饵服务应用程序结构体
type App struct {
	mu     sync.RWMutex
	config *config.Config
	loader *config.ConfigLoader
	logger *logger.LoggerManager
	core   *setup.CoreModule
	server *setup.ServerModule

	watchConfig bool
	watcher     *config.ConfigWatcher
	adminAddr   net.Addr

	stopOnce sync.Once
	stopErr  error
}

// NewApp 加载配置并创建应用实例，watchConfig 为 true 时启用配置热更新
func NewApp(loader *config.ConfigLoader, watchConfig bool) (*App, error) {
	cfg, err := loader.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	loggerManager, err := logger.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	logger.Info("NeoDecoy application initializing...")
	if path := loader.GetConfigPath(); path != "" {
		logger.Infof("Config loaded from %s", path)
	} else {
		logger.Info("No config file found, using built-in service table")
	}

	coreModule, err := setup.SetupCore(cfg, nil)
	if err != nil {
		return nil, err
	}
	serverModule := setup.SetupServer(cfg, coreModule.Orchestrator)

	return &App{
		config:      cfg,
		loader:      loader,
		logger:      loggerManager,
		core:        coreModule,
		server:      serverModule,
		watchConfig: watchConfig,
	}, nil
}

// GetConfig 获取配置实例
func (a *App) GetConfig() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// Signal 停机信号，由命令行层映射 SIGINT/SIGTERM
func (a *App) Signal() *responder.ShutdownSignal {
	return a.core.Signal
}

// Orchestrator 核心编排器
func (a *App) Orchestrator() *responder.Orchestrator {
	return a.core.Orchestrator
}

// AdminAddr 状态接口实际监听地址，未启用时为空
func (a *App) AdminAddr() string {
	if a.adminAddr == nil {
		return ""
	}
	return a.adminAddr.String()
}

// Start 启动应用程序
// 任一服务绑定失败即返回错误，已启动的部分会被关闭
func (a *App) Start(ctx context.Context) error {
	logger.Info("Starting NeoDecoy services...")

	if err := a.core.Orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.HTTPServer.Addr)
		if err != nil {
			a.core.Orchestrator.Shutdown(ctx)
			return fmt.Errorf("failed to start admin server on %s: %w", a.server.HTTPServer.Addr, err)
		}
		a.adminAddr = ln.Addr()

		go func() {
			if err := a.server.HTTPServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Admin server stopped: %v", err)
			}
		}()
		logger.Infof("Admin API listening on %s", a.adminAddr)
	}

	if a.watchConfig {
		a.startWatcher(ctx)
	}

	logger.Infof("NeoDecoy started with %d services", len(a.core.Orchestrator.Bindings()))
	return nil
}

// startWatcher 配置热更新：日志配置即时生效，服务表变化需要重启
func (a *App) startWatcher(ctx context.Context) {
	watcher, err := config.NewConfigWatcher(a.loader, a.GetConfig())
	if errors.Is(err, config.ErrNoConfigFile) {
		logger.Debugf("Config watcher disabled: %v", err)
		return
	}
	if err != nil {
		logger.Warnf("Config watcher disabled: %v", err)
		return
	}

	watcher.AddCallback(a.onConfigChange)
	watcher.OnError(func(err error) {
		logger.LogSystemEvent("config", "reload", err.Error(), logger.WarnLevel, nil)
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warnf("Config watcher disabled: %v", err)
		_ = watcher.Stop()
		return
	}
	a.watcher = watcher
}

func (a *App) onConfigChange(oldConfig, newConfig *config.Config) error {
	if err := a.logger.UpdateConfig(newConfig.Log); err != nil {
		return err
	}
	if config.ServicesChanged(oldConfig, newConfig) {
		logger.LogSystemEvent("config", "reload",
			"service table or listener settings changed; restart required to apply",
			logger.WarnLevel, map[string]interface{}{"config_file": a.loader.GetConfigPath()})
	}
	a.mu.Lock()
	a.config = newConfig
	a.mu.Unlock()
	return nil
}

// Wait 阻塞到停机信号触发，完成关闭后返回报告
func (a *App) Wait(ctx context.Context) (responder.ShutdownReport, error) {
	report, err := a.core.Orchestrator.Wait(ctx)
	if err != nil {
		return report, err
	}
	return report, a.stopAux(ctx)
}

// Stop 立即停止应用程序
func (a *App) Stop(ctx context.Context) (responder.ShutdownReport, error) {
	logger.Info("Stopping NeoDecoy...")
	report := a.core.Orchestrator.Shutdown(ctx)
	return report, a.stopAux(ctx)
}

// stopAux 关闭状态接口和配置监听，只执行一次
func (a *App) stopAux(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			_ = a.watcher.Stop()
		}
		if a.server != nil && a.adminAddr != nil {
			if err := a.server.HTTPServer.Shutdown(ctx); err != nil {
				a.stopErr = fmt.Errorf("failed to stop admin server: %w", err)
				return
			}
		}
		logger.Info("NeoDecoy stopped")
	})
	return a.stopErr
}
