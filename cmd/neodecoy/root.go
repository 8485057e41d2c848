/*
 * @author: Sun977
 * @date: 2026.02.12
 * @description: Cobra Root Command 定义
 */

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"neodecoy/internal/config"
	"neodecoy/internal/pkg/logger"
)

var (
	cfgFile  string
	envFiles []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "neodecoy",
	Short: "NeoDecoy 多服务诱饵响应器",
	Long: `NeoDecoy 在配置的 TCP/UDP 端口上模拟常见服务的表面行为:
连接建立后发送预置 banner,随后回显客户端输入,UDP 数据报回复固定内容。
不实现任何真实协议,用于扫描器测试和侦察干扰。

示例:
  1.使用内置服务表启动
	neodecoy serve
  2.指定配置文件和绑定地址,开启状态接口
	neodecoy serve --config ./configs/config.yaml --host 0.0.0.0 --admin
  3.查看/导出生效的服务表
	neodecoy services
	neodecoy services export -o services.yaml
`,
	SilenceUsage: true,
	// PersistentPreRunE: 全局初始化逻辑，加载 .env 并初始化 CLI 日志
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envLoader := config.NewEnvLoader(envFiles...)
		if err := envLoader.Load(); err != nil {
			return err
		}
		initCLILogger(cmd)
		for _, key := range envLoader.Applied("NEODECOY_") {
			pterm.Debug.Printfln("%s loaded from %s", key, envLoader.Source(key))
		}
		return nil
	},
}

func Execute() {
	// 全局 Panic Recovery
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[FATAL] NeoDecoy crashed unexpectedly: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// 全局 Flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件或目录 (默认: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "日志级别 (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env 文件,可重复指定")

	// 注册子命令
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newServicesCmd())
	rootCmd.AddCommand(versionCmd)
}

// newConfigLoader 创建配置加载器并绑定全局 Flag
func newConfigLoader(cmd *cobra.Command) (*config.ConfigLoader, error) {
	loader := config.NewConfigLoader(cfgFile, "NEODECOY")
	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		if err := loader.BindPFlag("log.level", flag); err != nil {
			return nil, err
		}
	}
	return loader, nil
}

// initCLILogger 初始化 CLI 模式下的日志
// serve 命令启动后会按配置文件重新初始化
func initCLILogger(cmd *cobra.Command) {
	flag := cmd.Flags().Lookup("log-level")
	level := "warn"
	if flag != nil && flag.Changed {
		level = flag.Value.String()
	}

	switch level {
	case "debug":
		pterm.EnableDebugMessages()
	case "info":
		pterm.DisableDebugMessages()
	default:
		pterm.DisableDebugMessages()
		pterm.Info = *pterm.Info.WithWriter(io.Discard)
	}

	logConfig := &config.LogConfig{
		Level:  level,
		Format: "text",
		Output: "stderr",
	}
	if _, err := logger.InitLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
	}
}
