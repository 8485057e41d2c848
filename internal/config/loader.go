package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigLoader 配置加载器
// configPath 可以是目录（按环境查找 config.<env>.yaml / config.yaml），也可以是具体文件
type ConfigLoader struct {
	configPath string
	envPrefix  string
	viper      *viper.Viper
}

// NewConfigLoader 创建配置加载器
func NewConfigLoader(configPath, envPrefix string) *ConfigLoader {
	if envPrefix == "" {
		envPrefix = "NEODECOY"
	}

	return &ConfigLoader{
		configPath: configPath,
		envPrefix:  envPrefix,
		viper:      viper.New(),
	}
}

// Set 覆盖单个配置项（优先级高于文件和环境变量）
func (cl *ConfigLoader) Set(key string, value interface{}) {
	cl.viper.Set(key, value)
}

// BindPFlag 绑定命令行参数，参数被显式设置时覆盖配置文件
func (cl *ConfigLoader) BindPFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("flag for %s is nil", key)
	}
	return cl.viper.BindPFlag(key, flag)
}

// LoadConfig 加载配置
func (cl *ConfigLoader) LoadConfig() (*Config, error) {
	// 环境变量: NEODECOY_SERVER_HOST -> server.host
	cl.viper.SetEnvPrefix(cl.envPrefix)
	cl.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cl.viper.AutomaticEnv()

	cl.setDefaults()

	if err := cl.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	var config Config
	if err := cl.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// loadConfigFile 加载配置文件
// 目录模式下找不到配置文件不算错误，全部使用默认值
func (cl *ConfigLoader) loadConfigFile() error {
	path := cl.configPath
	if path == "" {
		path = os.Getenv(cl.envPrefix + "_CONFIG_PATH")
	}

	if isConfigFile(path) {
		cl.viper.SetConfigFile(path)
		return cl.viper.ReadInConfig()
	}

	if path != "" {
		cl.viper.AddConfigPath(path)
	}
	cl.viper.AddConfigPath("./configs")
	cl.viper.AddConfigPath(".")

	// 优先加载环境特定的配置文件
	cl.viper.SetConfigName(fmt.Sprintf("config.%s", cl.getEnvironment()))
	err := cl.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return err
	}

	cl.viper.SetConfigName("config")
	if err := cl.viper.ReadInConfig(); err != nil {
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// getEnvironment 获取运行环境
func (cl *ConfigLoader) getEnvironment() string {
	env := os.Getenv(cl.envPrefix + "_ENV")
	if env == "" {
		env = os.Getenv("GO_ENV")
	}
	if env == "" {
		env = "development"
	}
	return env
}

// setDefaults 设置默认值
// 服务表默认值在 applyDefaults 中处理，viper 无法合并结构体切片
func (cl *ConfigLoader) setDefaults() {
	cl.viper.SetDefault("app.name", "NeoDecoy")
	cl.viper.SetDefault("app.environment", "development")
	cl.viper.SetDefault("app.debug", false)

	cl.viper.SetDefault("server.host", "127.0.0.1")
	cl.viper.SetDefault("server.read_buffer_size", 1024)
	cl.viper.SetDefault("server.idle_timeout", "0s")
	cl.viper.SetDefault("server.max_connections", 0)
	cl.viper.SetDefault("server.shutdown_timeout", "5s")

	cl.viper.SetDefault("log.level", "info")
	cl.viper.SetDefault("log.format", "text")
	cl.viper.SetDefault("log.output", "stdout")
	cl.viper.SetDefault("log.file_path", "./logs/neodecoy.log")
	cl.viper.SetDefault("log.max_size", 100)
	cl.viper.SetDefault("log.max_backups", 3)
	cl.viper.SetDefault("log.max_age", 28)
	cl.viper.SetDefault("log.compress", true)
	cl.viper.SetDefault("log.caller", false)

	cl.viper.SetDefault("admin.enabled", false)
	cl.viper.SetDefault("admin.host", "127.0.0.1")
	cl.viper.SetDefault("admin.port", 17080)
}

// GetConfigPath 获取实际使用的配置文件路径，未使用配置文件时为空
func (cl *ConfigLoader) GetConfigPath() string {
	return cl.viper.ConfigFileUsed()
}

// Reload 使用相同的路径、前缀和覆盖项重新加载
func (cl *ConfigLoader) Reload() (*Config, error) {
	return cl.LoadConfig()
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// LoadConfigFromFile 从指定文件加载配置
func LoadConfigFromFile(configFile string) (*Config, error) {
	return NewConfigLoader(configFile, "NEODECOY").LoadConfig()
}
