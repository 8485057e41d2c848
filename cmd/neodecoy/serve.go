/*
 * @author: Sun977
 * @date: 2026.02.12
 * @description: serve 子命令，启动全部诱饵服务直到收到停机信号
 */

package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"neodecoy/internal/app/decoy"
	"neodecoy/internal/core/responder"
	"neodecoy/internal/pkg/logger"
)

type serveOptions struct {
	noWatch bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动诱饵服务",
		Long: `绑定服务表中的全部 TCP/UDP 端口并开始响应。
任一端口绑定失败即退出(返回非 0)。收到 SIGINT/SIGTERM 后停止监听、
关闭全部存活连接并打印关闭报告。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("host", "", "绑定地址 (默认: 127.0.0.1)")
	cmd.Flags().Bool("admin", false, "启用只读状态接口")
	cmd.Flags().Int("admin-port", 0, "状态接口端口 (默认: 17080)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "禁用配置文件热更新")
	return cmd
}

// serveFlagKeys 命令行参数与配置项的对应关系
var serveFlagKeys = map[string]string{
	"host":       "server.host",
	"admin":      "admin.enabled",
	"admin-port": "admin.port",
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	loader, err := newConfigLoader(cmd)
	if err != nil {
		return err
	}
	for name, key := range serveFlagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := loader.BindPFlag(key, flag); err != nil {
			return err
		}
	}

	app, err := decoy.NewApp(loader, !opts.noWatch)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	printBindings(app.Orchestrator().Bindings(), app.AdminAddr())

	// SIGINT/SIGTERM 映射为停机信号
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	app.Signal().FireOnDone(sigCtx)

	go func() {
		<-app.Signal().Done()
		if sigCtx.Err() != nil {
			logger.LogSystemEvent("signal", "received", "termination signal", logger.InfoLevel, nil)
			pterm.Info.Println("Received termination signal, shutting down...")
		}
		// 恢复默认处理，关闭过程中再次收到信号直接终止进程
		stop()
	}()

	report, err := app.Wait(ctx)
	printReport(report)
	return err
}

func printBindings(bindings []responder.Binding, adminAddr string) {
	data := pterm.TableData{{"Protocol", "Address", "Service", "First Line"}}
	for _, b := range bindings {
		data = append(data, []string{string(b.Protocol), b.Address, b.Service, b.FirstLine})
	}
	pterm.DefaultSection.Println("NeoDecoy Services")
	_ = pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(data).Render()
	if adminAddr != "" {
		pterm.Info.Printfln("Admin API: http://%s/api/v1/stats", adminAddr)
	}
}

func printReport(report responder.ShutdownReport) {
	data := pterm.TableData{
		{"Item", "Value"},
		{"Listeners Stopped", strconv.Itoa(report.ListenersStopped)},
		{"UDP Responders Closed", strconv.Itoa(report.RespondersClosed)},
		{"Connections Closed", strconv.Itoa(report.ConnectionsClosed)},
		{"Connections Timed Out", strconv.Itoa(report.ConnectionsTimedOut)},
		{"Remaining", strconv.Itoa(report.Remaining)},
		{"Duration", report.Duration.String()},
	}
	pterm.DefaultSection.Println("Shutdown Report")
	_ = pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(data).Render()
	if report.Remaining == 0 && report.ConnectionsTimedOut == 0 {
		pterm.Success.Println("All services stopped cleanly")
	} else {
		pterm.Warning.Printfln("%d connection(s) did not confirm close in time", report.ConnectionsTimedOut)
	}
}
