package responder

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/net/netutil"

	"neodecoy/internal/core/model"
	"neodecoy/internal/pkg/logger"
)

var echoPrefix = []byte("Echo: ")

// Accept 临时错误的重试间隔
const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// TCPListener 一个 TCP 服务的监听器
// 接受循环负责登记连接，每个连接一个处理协程
type TCPListener struct {
	service     model.TCPService
	ln          net.Listener
	registry    *Registry
	readSize    int
	idleTimeout time.Duration

	// 停止与登记互斥：Stop 返回后不会再有新连接进入登记表
	mu       sync.Mutex
	stopping bool
	stopCh   chan struct{}

	retryMin, retryMax time.Duration
	acceptDone         chan struct{}

	accepted atomic.Uint64
	outcomes [OutcomeTerminated + 1]atomic.Uint64
}

// ListenerStats 监听器统计
type ListenerStats struct {
	Service  string            `json:"service"`
	Address  string            `json:"address"`
	Accepted uint64            `json:"accepted"`
	Closed   map[string]uint64 `json:"closed"`
}

// listenTCP 绑定端口，不启动接受循环
func listenTCP(ctx context.Context, host string, svc model.TCPService, registry *Registry, opts Options) (*TCPListener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(svc.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &BindError{Proto: "tcp", Addr: addr, Service: svc.Label(), Err: err}
	}
	// 达到上限后 Accept 阻塞，新连接留在内核队列中，连接关闭后释放名额
	if opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, opts.MaxConnections)
	}

	return newTCPListener(ln, svc, registry, opts), nil
}

func newTCPListener(ln net.Listener, svc model.TCPService, registry *Registry, opts Options) *TCPListener {
	return &TCPListener{
		service:     svc,
		ln:          ln,
		registry:    registry,
		readSize:    opts.readSize(),
		idleTimeout: opts.IdleTimeout,
		stopCh:      make(chan struct{}),
		retryMin:    acceptRetryMin,
		retryMax:    acceptRetryMax,
		acceptDone:  make(chan struct{}),
	}
}

// Addr 实际监听地址（端口 0 时由系统分配）
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *TCPListener) Service() model.TCPService {
	return l.service
}

// serve 运行接受循环直到监听器被关闭
func (l *TCPListener) serve() {
	defer close(l.acceptDone)

	b := &backoff.Backoff{Min: l.retryMin, Max: l.retryMax}
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isStopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			// 例如文件描述符耗尽，退避后重试，Stop 会打断等待
			d := b.Duration()
			logger.WithField("service", l.service.Label()).Warnf("accept failed: %v; retrying in %v", err, d)
			select {
			case <-time.After(d):
			case <-l.stopCh:
				return
			}
			continue
		}
		b.Reset()

		if !l.admit(conn) {
			_ = conn.Close()
			return
		}
	}
}

// admit 登记连接并启动处理协程，监听器正在停止时拒绝
func (l *TCPListener) admit(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopping {
		return false
	}

	c := l.registry.Register(l.service.Label(), l.service.Port, conn)
	l.accepted.Add(1)
	logger.LogConnectionEvent(logger.ConnectionLogEntry{
		ConnID:  c.id,
		Service: c.service,
		Peer:    c.peer,
		Local:   c.local,
		Event:   "accepted",
	}, logger.DebugLevel)

	go l.handle(c)
	return true
}

func (l *TCPListener) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

// Stop 停止接受新连接并等待接受循环退出，已建立的连接不受影响
func (l *TCPListener) Stop() {
	if l.markStopping() {
		_ = l.ln.Close()
	}
	<-l.acceptDone
}

// markStopping 第一次调用返回 true
func (l *TCPListener) markStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopping {
		return false
	}
	l.stopping = true
	close(l.stopCh)
	return true
}

// close 绑定后未启动接受循环时释放端口
func (l *TCPListener) close() {
	if l.markStopping() {
		_ = l.ln.Close()
	}
}

func (l *TCPListener) Stats() ListenerStats {
	closed := make(map[string]uint64)
	for i := range l.outcomes {
		if n := l.outcomes[i].Load(); n > 0 {
			closed[Outcome(i).String()] = n
		}
	}
	return ListenerStats{
		Service:  l.service.Label(),
		Address:  l.Addr().String(),
		Accepted: l.accepted.Load(),
		Closed:   closed,
	}
}

func (l *TCPListener) handle(c *Connection) {
	l.finish(c, l.converse(c))
}

// converse banner 之后进入回显循环，返回结束原因
func (l *TCPListener) converse(c *Connection) Outcome {
	if banner := l.service.Banner; len(banner) > 0 {
		if err := l.write(c, banner); err != nil {
			return classify(err, c.forced.Load())
		}
	}
	c.setState(StateBannerSent)
	c.setState(StateEchoLoop)

	buf := make([]byte, l.readSize)
	for {
		if l.idleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(l.idleTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.bytesIn.Add(int64(n))
			payload := buf[:n]
			if IsTerminationKeyword(payload) {
				return OutcomeTerminated
			}

			reply := make([]byte, 0, len(echoPrefix)+n)
			reply = append(reply, echoPrefix...)
			reply = append(reply, payload...)
			if werr := l.write(c, reply); werr != nil {
				return classify(werr, c.forced.Load())
			}
		}
		if err != nil {
			return classify(err, c.forced.Load())
		}
		if n == 0 {
			return OutcomePeerClosed
		}
	}
}

func (l *TCPListener) write(c *Connection, p []byte) error {
	if l.idleTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(l.idleTimeout))
	}
	n, err := c.conn.Write(p)
	c.bytesOut.Add(int64(n))
	return err
}

// finish CLOSING -> CLOSED，每个连接只执行一次
func (l *TCPListener) finish(c *Connection, outcome Outcome) {
	c.setState(StateClosing)
	c.closeStream()
	c.setState(StateClosed)
	l.outcomes[outcome].Add(1)
	l.registry.Remove(c)
	close(c.closed)

	level := logger.DebugLevel
	if outcome == OutcomeFailed {
		level = logger.WarnLevel
	}
	logger.LogConnectionEvent(logger.ConnectionLogEntry{
		ConnID:   c.id,
		Service:  c.service,
		Peer:     c.peer,
		Local:    c.local,
		Event:    "closed",
		Outcome:  outcome.String(),
		BytesIn:  c.bytesIn.Load(),
		BytesOut: c.bytesOut.Load(),
		Duration: time.Since(c.acceptedAt),
	}, level)
}
