package responder

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"neodecoy/internal/core/model"
	"neodecoy/internal/pkg/logger"
)

// Options 监听参数，所有服务共用
type Options struct {
	Host            string        // 绑定地址，默认 127.0.0.1
	ReadBufferSize  int           // 回显循环单次读取上限，默认 1024
	IdleTimeout     time.Duration // 连接空闲超时，0 表示不限制
	MaxConnections  int           // 单个 TCP 服务的并发连接上限，0 表示不限制
	ShutdownTimeout time.Duration // 关闭阶段等待连接退出的总时长，0 表示不限制
}

func (o Options) host() string {
	if o.Host == "" {
		return "127.0.0.1"
	}
	return o.Host
}

func (o Options) readSize() int {
	if o.ReadBufferSize <= 0 {
		return model.DefaultReadBufferSize
	}
	return o.ReadBufferSize
}

// Binding 一个已绑定的服务
type Binding struct {
	Protocol  model.Protocol `json:"protocol"`
	Service   string         `json:"service"`
	Port      int            `json:"port"`
	Address   string         `json:"address"`
	FirstLine string         `json:"first_line"`
}

// Stats 运行统计
type Stats struct {
	Listeners     []ListenerStats  `json:"listeners"`
	Responders    []ResponderStats `json:"responders"`
	Active        int              `json:"active_connections"`
	TotalAccepted uint64           `json:"total_accepted"`
	TotalClosed   uint64           `json:"total_closed"`
	ShuttingDown  bool             `json:"shutting_down"`
}

// ShutdownReport 关闭结果
type ShutdownReport struct {
	ListenersStopped    int           `json:"listeners_stopped"`
	RespondersClosed    int           `json:"responders_closed"`
	ConnectionsClosed   int           `json:"connections_closed"`
	ConnectionsTimedOut int           `json:"connections_timed_out"`
	Remaining           int           `json:"remaining"`
	Duration            time.Duration `json:"duration"`
}

// Orchestrator 启动全部监听器并负责有序关闭
type Orchestrator struct {
	table    model.ServiceTable
	opts     Options
	registry *Registry
	signal   *ShutdownSignal

	mu         sync.Mutex
	started    bool
	listeners  []*TCPListener
	responders []*UDPResponder

	shutdownOnce sync.Once
	report       ShutdownReport
}

// NewOrchestrator registry 和 signal 为 nil 时新建
func NewOrchestrator(table model.ServiceTable, opts Options, registry *Registry, signal *ShutdownSignal) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	if signal == nil {
		signal = NewShutdownSignal()
	}
	return &Orchestrator{
		table:    table,
		opts:     opts,
		registry: registry,
		signal:   signal,
	}
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

func (o *Orchestrator) Signal() *ShutdownSignal { return o.signal }

// Start 并发绑定全部服务
// 任何一个绑定失败都返回错误，已绑定的端口尽力释放
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.signal.Fired() {
		return ErrShutdownInProgress
	}
	if o.started {
		return ErrAlreadyStarted
	}
	if err := o.table.Validate(); err != nil {
		return fmt.Errorf("invalid service table: %w", err)
	}

	host := o.opts.host()
	listeners := make([]*TCPListener, len(o.table.TCP))
	responders := make([]*UDPResponder, len(o.table.UDP))

	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range o.table.TCP {
		g.Go(func() error {
			l, err := listenTCP(gctx, host, svc, o.registry, o.opts)
			if err != nil {
				return err
			}
			listeners[i] = l
			return nil
		})
	}
	for i, svc := range o.table.UDP {
		g.Go(func() error {
			r, err := listenUDP(gctx, host, svc)
			if err != nil {
				return err
			}
			responders[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, l := range listeners {
			if l != nil {
				l.close()
			}
		}
		for _, r := range responders {
			if r != nil {
				r.close()
			}
		}
		return err
	}

	o.listeners = listeners
	o.responders = responders
	o.started = true

	for _, l := range listeners {
		go l.serve()
	}
	for _, r := range responders {
		go r.serve()
	}

	for _, b := range o.bindingsLocked() {
		logger.LogServiceEvent(logger.ServiceLogEntry{
			Protocol:  string(b.Protocol),
			Address:   b.Address,
			Service:   b.Service,
			FirstLine: b.FirstLine,
		})
	}
	logger.LogSystemEvent("orchestrator", "started",
		fmt.Sprintf("%d tcp / %d udp services on %s", len(listeners), len(responders), host),
		logger.InfoLevel, nil)

	// 停机信号的唯一观察者，信号触发即开始关闭
	go func() {
		<-o.signal.Done()
		o.Shutdown(context.Background())
	}()
	return nil
}

// Shutdown 触发停机信号并执行关闭，多次调用返回同一份报告
func (o *Orchestrator) Shutdown(ctx context.Context) ShutdownReport {
	o.signal.Fire()
	o.shutdownOnce.Do(func() {
		o.report = o.teardown(ctx)
	})
	return o.report
}

// Wait 阻塞到停机信号触发并完成关闭
// 未启动且信号未触发时返回 ErrNotStarted
func (o *Orchestrator) Wait(ctx context.Context) (ShutdownReport, error) {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started && !o.signal.Fired() {
		return ShutdownReport{}, ErrNotStarted
	}

	if err := o.signal.Wait(ctx); err != nil {
		return ShutdownReport{}, err
	}
	return o.Shutdown(ctx), nil
}

func (o *Orchestrator) teardown(ctx context.Context) ShutdownReport {
	start := time.Now()

	o.mu.Lock()
	listeners := o.listeners
	responders := o.responders
	o.mu.Unlock()

	var report ShutdownReport

	// 1. 停止接受新连接
	for _, l := range listeners {
		l.Stop()
		report.ListenersStopped++
	}

	// 2. 关闭 UDP
	for _, r := range responders {
		r.Close()
		report.RespondersClosed++
	}

	// 3. 逐个强制关闭存活连接并等待确认
	var deadline <-chan time.Time
	if o.opts.ShutdownTimeout > 0 {
		timer := time.NewTimer(o.opts.ShutdownTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	expired := false

	for _, c := range o.registry.Snapshot() {
		c.ForceClose()
		if !expired {
			select {
			case <-c.Done():
				report.ConnectionsClosed++
				continue
			case <-deadline:
				expired = true
			case <-ctx.Done():
				expired = true
			}
		}
		// 超时后不再等待，连接已被关闭，登记表中的条目直接移除
		select {
		case <-c.Done():
			report.ConnectionsClosed++
		default:
			report.ConnectionsTimedOut++
			o.registry.Remove(c)
		}
	}

	report.Remaining = o.registry.Len()
	report.Duration = time.Since(start)

	logger.LogSystemEvent("orchestrator", "shutdown", "all services stopped", logger.InfoLevel, map[string]interface{}{
		"listeners":         report.ListenersStopped,
		"responders":        report.RespondersClosed,
		"connections":       report.ConnectionsClosed,
		"timed_out":         report.ConnectionsTimedOut,
		"remaining":         report.Remaining,
		"shutdown_duration": report.Duration.String(),
	})
	return report
}

// Bindings 已绑定服务列表，TCP 在前，顺序与服务表一致
func (o *Orchestrator) Bindings() []Binding {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bindingsLocked()
}

func (o *Orchestrator) bindingsLocked() []Binding {
	bindings := make([]Binding, 0, len(o.listeners)+len(o.responders))
	for _, l := range o.listeners {
		bindings = append(bindings, Binding{
			Protocol:  model.ProtocolTCP,
			Service:   l.service.Label(),
			Port:      portOf(l.Addr(), l.service.Port),
			Address:   l.Addr().String(),
			FirstLine: model.FirstLine(l.service.Banner),
		})
	}
	for _, r := range o.responders {
		bindings = append(bindings, Binding{
			Protocol:  model.ProtocolUDP,
			Service:   r.service.Label(),
			Port:      portOf(r.Addr(), r.service.Port),
			Address:   r.Addr().String(),
			FirstLine: model.FirstLine(r.service.Reply),
		})
	}
	return bindings
}

// portOf 实际端口，配置为 0 时由系统分配
func portOf(addr net.Addr, fallback int) int {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	return fallback
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	listeners := o.listeners
	responders := o.responders
	o.mu.Unlock()

	stats := Stats{Active: o.registry.Len(), ShuttingDown: o.signal.Fired()}
	stats.TotalAccepted, stats.TotalClosed = o.registry.Totals()
	for _, l := range listeners {
		stats.Listeners = append(stats.Listeners, l.Stats())
	}
	for _, r := range responders {
		stats.Responders = append(stats.Responders, r.Stats())
	}
	return stats
}
