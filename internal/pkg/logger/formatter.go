// 结构化事件日志
package logger

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FormatTimestamp 格式化时间戳为统一的毫秒精度格式
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

// NowFormatted 返回当前时间的格式化字符串
func NowFormatted() string {
	return FormatTimestamp(time.Now())
}

// LogType 日志类型枚举
type LogType string

const (
	// SystemLog 系统日志 - 启动、关闭、配置变更
	SystemLog LogType = "system"
	// ServiceLog 服务日志 - 每个绑定成功的服务一条
	ServiceLog LogType = "service"
	// ConnectionLog 连接日志 - TCP 连接建立与关闭
	ConnectionLog LogType = "connection"
	// DatagramLog 数据报日志 - 每个 UDP 数据报一条
	DatagramLog LogType = "datagram"
	// AccessLog 访问日志 - 状态接口的 HTTP 请求
	AccessLog LogType = "access"
)

// ServiceLogEntry 服务绑定记录
type ServiceLogEntry struct {
	Protocol  string `json:"protocol"`   // tcp / udp
	Address   string `json:"address"`    // 实际监听地址
	Service   string `json:"service"`    // 服务名
	FirstLine string `json:"first_line"` // banner/reply 第一行
}

// ConnectionLogEntry 连接事件记录
type ConnectionLogEntry struct {
	ConnID   uint64        `json:"conn_id"`
	Service  string        `json:"service"`
	Peer     string        `json:"peer"`
	Local    string        `json:"local"`
	Event    string        `json:"event"`   // accepted / closed
	Outcome  string        `json:"outcome"` // 关闭原因
	BytesIn  int64         `json:"bytes_in"`
	BytesOut int64         `json:"bytes_out"`
	Duration time.Duration `json:"duration"`
}

// LogSystemEvent 记录系统事件
func LogSystemEvent(component, event, message string, level LogLevel, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	LoggerInstance.logger.WithFields(fields).Log(toLogrusLevel(level), fmt.Sprintf("%s - %s: %s", component, event, message))
}

// LogServiceEvent 记录服务绑定，消息格式: [TCP] 127.0.0.1:22 ssh - SSH-2.0-OpenSSH_8.9p1
func LogServiceEvent(entry ServiceLogEntry) {
	if LoggerInstance == nil {
		return
	}

	msg := fmt.Sprintf("[%s] %s %s", strings.ToUpper(entry.Protocol), entry.Address, entry.Service)
	if entry.FirstLine != "" {
		msg += " - " + entry.FirstLine
	}

	LoggerInstance.logger.WithFields(logrus.Fields{
		"type":       ServiceLog,
		"protocol":   entry.Protocol,
		"address":    entry.Address,
		"service":    entry.Service,
		"first_line": entry.FirstLine,
	}).Info(msg)
}

// LogConnectionEvent 记录 TCP 连接事件
// 建立连接记为 debug，关闭按原因区分：异常关闭记为 warn
func LogConnectionEvent(entry ConnectionLogEntry, level LogLevel) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":    ConnectionLog,
		"conn_id": entry.ConnID,
		"service": entry.Service,
		"peer":    entry.Peer,
		"local":   entry.Local,
		"event":   entry.Event,
	}
	if entry.Outcome != "" {
		fields["outcome"] = entry.Outcome
		fields["bytes_in"] = entry.BytesIn
		fields["bytes_out"] = entry.BytesOut
		fields["duration_ms"] = entry.Duration.Milliseconds()
	}

	LoggerInstance.logger.WithFields(fields).Log(toLogrusLevel(level),
		fmt.Sprintf("[%s] connection #%d %s %s", entry.Service, entry.ConnID, entry.Event, entry.Peer))
}

// LogDatagramEvent 记录收到的 UDP 数据报，消息格式: [UDP:53] received 12 bytes from 127.0.0.1:50000
func LogDatagramEvent(port int, service string, size int, from string) {
	if LoggerInstance == nil {
		return
	}

	LoggerInstance.logger.WithFields(logrus.Fields{
		"type":    DatagramLog,
		"port":    port,
		"service": service,
		"size":    size,
		"from":    from,
	}).Info(fmt.Sprintf("[UDP:%d] received %d bytes from %s", port, size, from))
}

// LogLevel 日志级别类型，调用方无需直接依赖logrus
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
