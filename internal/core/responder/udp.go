package responder

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"

	"neodecoy/internal/core/model"
	"neodecoy/internal/pkg/logger"
)

// maxDatagramSize UDP 数据报上限
const maxDatagramSize = 64 * 1024

// UDPResponder 一个 UDP 服务：每个数据报回复一次固定内容，不保存任何对端状态
type UDPResponder struct {
	service model.UDPService
	pc      net.PacketConn

	stopping atomic.Bool
	done     chan struct{}

	datagrams atomic.Uint64
	replies   atomic.Uint64
	errors    atomic.Uint64
}

// ResponderStats UDP 服务统计
type ResponderStats struct {
	Service   string `json:"service"`
	Address   string `json:"address"`
	Datagrams uint64 `json:"datagrams"`
	Replies   uint64 `json:"replies"`
	Errors    uint64 `json:"errors"`
}

func listenUDP(ctx context.Context, host string, svc model.UDPService) (*UDPResponder, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(svc.Port))

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, &BindError{Proto: "udp", Addr: addr, Service: svc.Label(), Err: err}
	}

	return &UDPResponder{
		service: svc,
		pc:      pc,
		done:    make(chan struct{}),
	}, nil
}

func (r *UDPResponder) Addr() net.Addr {
	return r.pc.LocalAddr()
}

func (r *UDPResponder) Service() model.UDPService {
	return r.service
}

// serve 读循环，socket 关闭后退出
func (r *UDPResponder) serve() {
	defer close(r.done)

	port := portOf(r.pc.LocalAddr(), r.service.Port)

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := r.pc.ReadFrom(buf)
		if err != nil {
			if r.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Windows 上对端不可达会以读错误的形式返回
			r.errors.Add(1)
			logger.WithField("service", r.service.Label()).Debugf("udp read: %v", err)
			continue
		}

		r.datagrams.Add(1)
		logger.LogDatagramEvent(port, r.service.Label(), n, from.String())

		if _, err := r.pc.WriteTo(r.service.Reply, from); err != nil {
			if r.stopping.Load() {
				return
			}
			r.errors.Add(1)
			logger.WithField("service", r.service.Label()).Debugf("udp reply to %s: %v", from, err)
			continue
		}
		r.replies.Add(1)
	}
}

// Close 关闭 socket 并等待读循环退出
func (r *UDPResponder) Close() {
	if r.stopping.Swap(true) {
		<-r.done
		return
	}
	_ = r.pc.Close()
	<-r.done
}

// close 未启动读循环时释放端口
func (r *UDPResponder) close() {
	r.stopping.Store(true)
	_ = r.pc.Close()
}

func (r *UDPResponder) Stats() ResponderStats {
	return ResponderStats{
		Service:   r.service.Label(),
		Address:   r.Addr().String(),
		Datagrams: r.datagrams.Load(),
		Replies:   r.replies.Load(),
		Errors:    r.errors.Load(),
	}
}
