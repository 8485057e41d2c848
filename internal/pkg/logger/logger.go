// 日志管理器
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"neodecoy/internal/config"
)

// TimestampFormat 日志时间戳格式（毫秒精度）
const TimestampFormat = "2006-01-02 15:04:05.000"

// LoggerManager 日志管理器
type LoggerManager struct {
	mu     sync.Mutex
	logger *logrus.Logger
	config *config.LogConfig
	closer io.Closer // 文件输出时持有 lumberjack，切换输出时关闭
}

// LoggerInstance 全局日志实例
var LoggerInstance *LoggerManager

// InitLogger 初始化日志管理器并设置为全局实例
func InitLogger(cfg *config.LogConfig) (*LoggerManager, error) {
	lm, err := NewLoggerManager(cfg)
	if err != nil {
		return nil, err
	}
	LoggerInstance = lm
	return lm, nil
}

// NewLoggerManager 创建日志管理器，不修改全局实例
func NewLoggerManager(cfg *config.LogConfig) (*LoggerManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("log config cannot be nil")
	}

	lm := &LoggerManager{logger: logrus.New()}
	if err := lm.apply(cfg, true); err != nil {
		return nil, err
	}
	return lm, nil
}

// apply 按配置设置级别、格式、输出，force 为 true 时全部重新设置
func (lm *LoggerManager) apply(cfg *config.LogConfig, force bool) error {
	old := lm.config
	if old == nil {
		old = &config.LogConfig{}
	}

	if force || cfg.Level != old.Level {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			if !force {
				return fmt.Errorf("invalid log level: %w", err)
			}
			// 初始化时解析失败退回 info
			level = logrus.InfoLevel
			defer lm.logger.Warnf("Invalid log level '%s', using 'info' as default", cfg.Level)
		}
		lm.logger.SetLevel(level)
	}

	if force || cfg.Format != old.Format {
		formatter, err := newFormatter(cfg.Format)
		if err != nil {
			return fmt.Errorf("failed to set log formatter: %w", err)
		}
		lm.logger.SetFormatter(formatter)
	}

	if force || cfg.Output != old.Output || cfg.FilePath != old.FilePath || cfg.Level != old.Level {
		out, closer, err := newOutput(cfg)
		if err != nil {
			return fmt.Errorf("failed to set log output: %w", err)
		}
		lm.logger.SetOutput(out)
		if lm.closer != nil {
			_ = lm.closer.Close()
		}
		lm.closer = closer
	}

	lm.logger.SetReportCaller(cfg.Caller)

	copied := *cfg
	lm.config = &copied
	return nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: TimestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
				logrus.FieldKeyFunc: "function",
				logrus.FieldKeyFile: "file",
			},
		}, nil
	case "text", "":
		return &logrus.TextFormatter{
			TimestampFormat: TimestampFormat,
			FullTimestamp:   true,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newOutput 创建输出目标，file 输出使用 lumberjack 轮转
// debug 级别下文件输出同时写到控制台
func newOutput(cfg *config.LogConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		rotate := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,    // MB
			MaxBackups: cfg.MaxBackups, // 保留的备份文件数
			MaxAge:     cfg.MaxAge,     // 保留天数
			Compress:   cfg.Compress,
		}
		if strings.EqualFold(cfg.Level, "debug") {
			return io.MultiWriter(os.Stdout, rotate), rotate, nil
		}
		return rotate, rotate, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
}

// GetLogger 获取logrus实例
func (lm *LoggerManager) GetLogger() *logrus.Logger {
	return lm.logger
}

// GetConfig 获取当前日志配置（副本）
func (lm *LoggerManager) GetConfig() config.LogConfig {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return *lm.config
}

// UpdateConfig 运行时更新日志配置，只变更有差异的部分
func (lm *LoggerManager) UpdateConfig(newCfg *config.LogConfig) error {
	if newCfg == nil {
		return fmt.Errorf("new config cannot be nil")
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	old := *lm.config
	if err := lm.apply(newCfg, false); err != nil {
		return err
	}
	if old.Level != newCfg.Level || old.Format != newCfg.Format || old.Output != newCfg.Output {
		lm.logger.WithFields(logrus.Fields{
			"type":   SystemLog,
			"level":  newCfg.Level,
			"format": newCfg.Format,
			"output": newCfg.Output,
		}).Infof("Log config updated (level %s -> %s)", old.Level, newCfg.Level)
	}
	return nil
}

// Close 关闭文件输出
func (lm *LoggerManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closer == nil {
		return nil
	}
	err := lm.closer.Close()
	lm.closer = nil
	return err
}

// 便捷方法：使用全局日志实例，未初始化时丢弃

func entry() *logrus.Entry {
	if LoggerInstance != nil {
		return logrus.NewEntry(LoggerInstance.logger)
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func Debugf(format string, args ...interface{}) {
	if LoggerInstance != nil {
		LoggerInstance.logger.Debugf(format, args...)
	}
}

func Info(args ...interface{}) {
	if LoggerInstance != nil {
		LoggerInstance.logger.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if LoggerInstance != nil {
		LoggerInstance.logger.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if LoggerInstance != nil {
		LoggerInstance.logger.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if LoggerInstance != nil {
		LoggerInstance.logger.Errorf(format, args...)
	}
}

// WithField 添加单个字段
func WithField(key string, value interface{}) *logrus.Entry {
	return entry().WithField(key, value)
}

// WithFields 添加多个字段
func WithFields(fields logrus.Fields) *logrus.Entry {
	return entry().WithFields(fields)
}
