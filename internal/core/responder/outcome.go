package responder

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Outcome 一次 I/O 或一个连接的结束原因
type Outcome int

const (
	OutcomeOK         Outcome = iota // 正常完成，连接继续
	OutcomePeerClosed                // 对端关闭（EOF 或读到 0 字节）
	OutcomeReset                     // 连接被重置 / 管道断开
	OutcomeCancelled                 // 本端关闭：停机或强制关闭
	OutcomeTimeout                   // 空闲超时
	OutcomeFailed                    // 其他错误
	OutcomeTerminated                // 客户端发送 quit / exit
)

var outcomeNames = [...]string{
	OutcomeOK:         "ok",
	OutcomePeerClosed: "peer_closed",
	OutcomeReset:      "reset",
	OutcomeCancelled:  "cancelled",
	OutcomeTimeout:    "timeout",
	OutcomeFailed:     "failed",
	OutcomeTerminated: "terminated",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// MarshalText 状态接口以名称输出
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// classify 将 I/O 错误归类
// cancelled 表示本端已经主动关闭了连接，此时任何错误都视为取消
func classify(err error, cancelled bool) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case cancelled, errors.Is(err, net.ErrClosed):
		return OutcomeCancelled
	case errors.Is(err, io.EOF):
		return OutcomePeerClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED):
		return OutcomeReset
	default:
		return OutcomeFailed
	}
}

var terminationKeywords = [][]byte{[]byte("quit"), []byte("exit")}

// asciiSpace 只去掉 ASCII 空白，U+00A0 等 Unicode 空白保留
const asciiSpace = " \t\r\n\v\f"

// IsTerminationKeyword 去掉首尾 ASCII 空白后忽略大小写等于 quit 或 exit
func IsTerminationKeyword(payload []byte) bool {
	trimmed := bytes.Trim(payload, asciiSpace)
	for _, kw := range terminationKeywords {
		if bytes.EqualFold(trimmed, kw) {
			return true
		}
	}
	return false
}
