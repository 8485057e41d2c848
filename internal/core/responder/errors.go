package responder

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted Start 被重复调用
	ErrAlreadyStarted = errors.New("responder: already started")
	// ErrNotStarted 尚未启动
	ErrNotStarted = errors.New("responder: not started")
	// ErrShutdownInProgress 关闭信号已经触发，不再接受启动
	ErrShutdownInProgress = errors.New("responder: shutdown in progress")
)

// BindError 绑定端口失败
type BindError struct {
	Proto   string // tcp / udp
	Addr    string
	Service string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s %s (%s): %v", e.Proto, e.Addr, e.Service, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
