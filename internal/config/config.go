/**
 * 诱饵服务配置
 * @author: sun977
 * @date: 2026.02.10
 * @description: NeoDecoy 配置结构定义、默认服务表、配置校验以及到核心服务表的转换
 */
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"neodecoy/internal/core/model"
)

// Config 诱饵服务配置
type Config struct {
	// 应用配置
	App *AppConfig `yaml:"app" mapstructure:"app"`

	// 监听配置
	Server *ServerConfig `yaml:"server" mapstructure:"server"`

	// 日志配置
	Log *LogConfig `yaml:"log" mapstructure:"log"`

	// 服务表
	Services *ServicesConfig `yaml:"services" mapstructure:"services"`

	// 状态接口配置
	Admin *AdminConfig `yaml:"admin" mapstructure:"admin"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
	Debug       bool   `yaml:"debug" mapstructure:"debug"`             // 调试模式
}

// ServerConfig 监听配置
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                         // 绑定地址，所有服务共用
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"` // 单次读取上限（字节）
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 连接空闲超时，0 表示不限制
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`   // 单个 TCP 服务的并发连接上限，0 表示不限制
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"` // 关闭阶段等待连接退出的上限，0 表示不限制
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别 (debug/info/warn/error)
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式 (json/text)
	Output     string `yaml:"output" mapstructure:"output"`           // 日志输出 (stdout/stderr/file)
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 最大文件大小（MB）
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 最大备份数
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 最大保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// ServicesConfig 服务表配置
type ServicesConfig struct {
	TCP []TCPServiceConfig `yaml:"tcp" mapstructure:"tcp"`
	UDP []UDPServiceConfig `yaml:"udp" mapstructure:"udp"`
}

// TCPServiceConfig 单个 TCP 服务
// BannerHex 非空时优先于 Banner，用于二进制 banner
type TCPServiceConfig struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	Name      string `yaml:"name,omitempty" mapstructure:"name"`
	Banner    string `yaml:"banner,omitempty" mapstructure:"banner"`
	BannerHex string `yaml:"banner_hex,omitempty" mapstructure:"banner_hex"`
}

// UDPServiceConfig 单个 UDP 服务
// ReplyHex 非空时优先于 Reply
type UDPServiceConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	Name     string `yaml:"name,omitempty" mapstructure:"name"`
	Reply    string `yaml:"reply,omitempty" mapstructure:"reply"`
	ReplyHex string `yaml:"reply_hex,omitempty" mapstructure:"reply_hex"`
}

// AdminConfig 只读状态接口配置
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    int    `yaml:"port" mapstructure:"port"`
}

// Address 状态接口监听地址
func (a *AdminConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DefaultServices 默认服务表（SSH/HTTP/自定义应用 + DNS/SNMP 风格 UDP）
func DefaultServices() *ServicesConfig {
	return &ServicesConfig{
		TCP: []TCPServiceConfig{
			{Port: 22, Name: "ssh", Banner: "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu1\r\n"},
			{Port: 80, Name: "http", Banner: "HTTP/1.1 200 OK\r\nServer: SimplePyHTTP/0.1\r\n\r\nHello from HTTP!\n"},
			{Port: 8080, Name: "myapp", Banner: "MyApp/1.2.3\r\nWelcome to the app!\n"},
			{Port: 2222, Name: "fakessh", Banner: "FakeSSH-1.0-Faker\r\n"},
			{Port: 9000, Name: "custom", Banner: "CustomService v0.9\nType 'help' for commands\n"},
		},
		UDP: []UDPServiceConfig{
			{Port: 53, Name: "dns", ReplyHex: "1234" + hex.EncodeToString([]byte("FAKE-DNS-REPLY"))},
			{Port: 161, Name: "snmp", ReplyHex: "3082" + hex.EncodeToString([]byte("FAKE-SNMP"))},
			{Port: 9999, Name: "udp-ok", Reply: "OK"},
		},
	}
}

// applyDefaults 补齐缺省字段
// viper 的默认值负责标量字段，这里处理嵌套指针和服务表
func applyDefaults(cfg *Config) {
	if cfg.App == nil {
		cfg.App = &AppConfig{}
	}
	if cfg.App.Name == "" {
		cfg.App.Name = "NeoDecoy"
	}

	// shutdown_timeout 的默认值由 viper 提供，显式配置 0 表示不限制
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{ShutdownTimeout: 5 * time.Second}
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.ReadBufferSize == 0 {
		cfg.Server.ReadBufferSize = model.DefaultReadBufferSize
	}

	if cfg.Log == nil {
		cfg.Log = &LogConfig{}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	// 两张表都为空时使用默认服务表
	if cfg.Services == nil || (len(cfg.Services.TCP) == 0 && len(cfg.Services.UDP) == 0) {
		cfg.Services = DefaultServices()
	}

	if cfg.Admin == nil {
		cfg.Admin = &AdminConfig{}
	}
	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 17080
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server == nil || c.Log == nil || c.Services == nil || c.Admin == nil {
		return fmt.Errorf("config is incomplete")
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server host is required")
	}
	if c.Server.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid read buffer size: %d", c.Server.ReadBufferSize)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections: %d", c.Server.MaxConnections)
	}
	if c.Server.IdleTimeout < 0 {
		return fmt.Errorf("invalid idle timeout: %v", c.Server.IdleTimeout)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	// 端口范围和十六进制内容交给 ToTable 统一检查
	if _, err := c.Services.ToTable(); err != nil {
		return err
	}
	return nil
}

// ToTable 将服务配置转换为核心服务表
// 转换时解码十六进制内容并检查端口
func (s *ServicesConfig) ToTable() (model.ServiceTable, error) {
	var table model.ServiceTable

	for i, svc := range s.TCP {
		if err := checkPort(svc.Port); err != nil {
			return table, fmt.Errorf("services.tcp[%d]: %w", i, err)
		}
		banner, err := payload(svc.Banner, svc.BannerHex)
		if err != nil {
			return table, fmt.Errorf("services.tcp[%d]: invalid banner_hex: %w", i, err)
		}
		table.TCP = append(table.TCP, model.NewTCPService(svc.Port, svc.Name, banner))
	}

	for i, svc := range s.UDP {
		if err := checkPort(svc.Port); err != nil {
			return table, fmt.Errorf("services.udp[%d]: %w", i, err)
		}
		reply, err := payload(svc.Reply, svc.ReplyHex)
		if err != nil {
			return table, fmt.Errorf("services.udp[%d]: invalid reply_hex: %w", i, err)
		}
		table.UDP = append(table.UDP, model.NewUDPService(svc.Port, svc.Name, reply))
	}

	if err := table.Validate(); err != nil {
		return table, err
	}
	return table, nil
}

func checkPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// payload 十六进制优先，允许空格分隔
func payload(text, hexText string) ([]byte, error) {
	if hexText == "" {
		return []byte(text), nil
	}
	return hex.DecodeString(strings.Join(strings.Fields(hexText), ""))
}
