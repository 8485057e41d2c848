package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"neodecoy/internal/config"
	"neodecoy/internal/core/model"
)

func newServicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "查看生效的服务表",
		Long:  "合并配置文件、环境变量与内置默认值后，列出将要绑定的 TCP/UDP 服务。",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			table, err := cfg.Services.ToTable()
			if err != nil {
				return err
			}
			pterm.DefaultSection.Printfln("Service Table (host %s)", cfg.Server.Host)
			return pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(serviceRows(table)).Render()
		},
	}

	var output string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "导出服务表为 YAML",
		Long:  "导出当前生效的服务表，可直接作为配置文件的 services 段使用。",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if output == "" {
				return exportServices(os.Stdout, cfg.Services)
			}

			if err := exportServicesToFile(output, cfg.Services); err != nil {
				return err
			}
			pterm.Success.Printfln("Service table exported to %s", output)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "输出文件 (默认: 标准输出)")

	cmd.AddCommand(exportCmd)
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader, err := newConfigLoader(cmd)
	if err != nil {
		return nil, err
	}
	return loader.LoadConfig()
}

// serviceRows 服务表渲染为表格数据，第一行为表头
func serviceRows(table model.ServiceTable) pterm.TableData {
	data := pterm.TableData{{"Protocol", "Port", "Name", "Bytes", "First Line"}}
	for _, svc := range table.TCP {
		data = append(data, []string{
			string(model.ProtocolTCP), strconv.Itoa(svc.Port), svc.Label(),
			strconv.Itoa(len(svc.Banner)), model.FirstLine(svc.Banner),
		})
	}
	for _, svc := range table.UDP {
		data = append(data, []string{
			string(model.ProtocolUDP), strconv.Itoa(svc.Port), svc.Label(),
			strconv.Itoa(len(svc.Reply)), model.FirstLine(svc.Reply),
		})
	}
	return data
}

// exportServicesToFile 写入文件，关闭失败同样视为导出失败
func exportServicesToFile(path string, services *config.ServicesConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := exportServices(f, services); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// exportServices 以配置文件格式写出服务表
func exportServices(w io.Writer, services *config.ServicesConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*config.ServicesConfig{"services": services}); err != nil {
		return fmt.Errorf("failed to encode service table: %w", err)
	}
	return enc.Close()
}
