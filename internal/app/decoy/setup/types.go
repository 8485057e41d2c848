package setup

import (
	"net/http"

	"neodecoy/internal/app/decoy/router"
	"neodecoy/internal/core/responder"
)

// CoreModule 诱饵服务核心模块
type CoreModule struct {
	Registry     *responder.Registry
	Signal       *responder.ShutdownSignal
	Orchestrator *responder.Orchestrator
}

// ServerModule 状态接口模块，admin 未启用时为 nil
type ServerModule struct {
	Router     *router.Router
	HTTPServer *http.Server
}
