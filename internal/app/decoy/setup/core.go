package setup

import (
	"fmt"

	"neodecoy/internal/config"
	"neodecoy/internal/core/responder"
)

// SetupCore 初始化核心模块
// 服务表在这里解析一次，之后以只读值传给各个监听器
func SetupCore(cfg *config.Config, signal *responder.ShutdownSignal) (*CoreModule, error) {
	table, err := cfg.Services.ToTable()
	if err != nil {
		return nil, fmt.Errorf("invalid service table: %w", err)
	}

	if signal == nil {
		signal = responder.NewShutdownSignal()
	}
	registry := responder.NewRegistry()

	opts := responder.Options{
		Host:            cfg.Server.Host,
		ReadBufferSize:  cfg.Server.ReadBufferSize,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxConnections:  cfg.Server.MaxConnections,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	return &CoreModule{
		Registry:     registry,
		Signal:       signal,
		Orchestrator: responder.NewOrchestrator(table, opts, registry, signal),
	}, nil
}
