package responder

import (
	"context"
	"sync"
)

// ShutdownSignal 单次触发的停机信号
// 只能触发一次，不会被清除，任意数量的协程可以等待
type ShutdownSignal struct {
	once sync.Once
	done chan struct{}
}

func NewShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{done: make(chan struct{})}
}

// Fire 触发信号，只有第一次调用返回 true
func (s *ShutdownSignal) Fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.done)
		fired = true
	})
	return fired
}

// Done 信号触发后关闭的 channel
func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.done
}

// Fired 是否已触发
func (s *ShutdownSignal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait 等待信号触发或 ctx 结束
func (s *ShutdownSignal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FireOnDone ctx 结束时触发信号，信号先触发时协程随之退出
func (s *ShutdownSignal) FireOnDone(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Fire()
		case <-s.done:
		}
	}()
}
