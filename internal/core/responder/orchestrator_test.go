package responder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neodecoy/internal/core/model"
)

// startOrchestrator 在 127.0.0.1 的随机端口上启动服务表，测试结束时关闭
func startOrchestrator(t *testing.T, table model.ServiceTable, opts Options) *Orchestrator {
	t.Helper()
	opts.Host = "127.0.0.1"
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 2 * time.Second
	}

	o := NewOrchestrator(table, opts, nil, nil)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { o.Shutdown(context.Background()) })
	return o
}

func addrOf(t *testing.T, o *Orchestrator, proto model.Protocol, service string) string {
	t.Helper()
	for _, b := range o.Bindings() {
		if b.Protocol == proto && b.Service == service {
			return b.Address
		}
	}
	require.FailNow(t, "binding not found", "%s %s", proto, service)
	return ""
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func readN(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 16))
	require.Error(t, err)
	assert.False(t, isTimeout(err), "connection not closed by server: %v", err)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func TestTCP_BannerEchoQuit(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "hello", []byte("HELLO\r\n"))}}
	o := startOrchestrator(t, table, Options{})

	conn := dial(t, addrOf(t, o, model.ProtocolTCP, "hello"))
	assert.Equal(t, "HELLO\r\n", readN(t, conn, len("HELLO\r\n")))

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "Echo: ping", readN(t, conn, len("Echo: ping")))

	_, err = conn.Write([]byte("quit"))
	require.NoError(t, err)
	expectClosed(t, conn)

	assert.Eventually(t, func() bool { return o.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	stats := o.Stats()
	require.Len(t, stats.Listeners, 1)
	assert.Equal(t, uint64(1), stats.Listeners[0].Accepted)
	assert.Equal(t, uint64(1), stats.Listeners[0].Closed["terminated"])
}

func TestTCP_KeywordVariants(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", []byte("READY\n"))}}
	o := startOrchestrator(t, table, Options{})
	addr := addrOf(t, o, model.ProtocolTCP, "svc")

	for _, kw := range []string{"QUIT", "Exit\r\n", "  quit  \n", "\texit"} {
		t.Run(strconv.Quote(kw), func(t *testing.T) {
			conn := dial(t, addr)
			readN(t, conn, len("READY\n"))
			_, err := conn.Write([]byte(kw))
			require.NoError(t, err)
			expectClosed(t, conn)
		})
	}
}

func TestTCP_EmptyBanner(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "silent", nil)}}
	o := startOrchestrator(t, table, Options{})

	conn := dial(t, addrOf(t, o, model.ProtocolTCP, "silent"))

	// 没有 banner：发送前读不到任何数据
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err := conn.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, isTimeout(err))

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Write([]byte("quit now\n"))
	require.NoError(t, err)
	assert.Equal(t, "Echo: quit now\n", readN(t, conn, len("Echo: quit now\n")))
}

func TestTCP_ClientClose(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", []byte("HI\n"))}}
	o := startOrchestrator(t, table, Options{})

	conn := dial(t, addrOf(t, o, model.ProtocolTCP, "svc"))
	readN(t, conn, 3)
	require.Equal(t, 1, o.Registry().Len())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return o.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return o.Stats().Listeners[0].Closed["peer_closed"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTCP_IdleTimeout(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", []byte("HI\n"))}}
	o := startOrchestrator(t, table, Options{IdleTimeout: 100 * time.Millisecond})

	conn := dial(t, addrOf(t, o, model.ProtocolTCP, "svc"))
	readN(t, conn, 3)
	expectClosed(t, conn)

	assert.Eventually(t, func() bool {
		return o.Stats().Listeners[0].Closed["timeout"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTCP_MultipleEchoes(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", nil)}}
	o := startOrchestrator(t, table, Options{})

	conn := dial(t, addrOf(t, o, model.ProtocolTCP, "svc"))
	reader := bufio.NewReader(conn)
	for _, line := range []string{"one\n", "two\n", "three\n"} {
		_, err := conn.Write([]byte(line))
		require.NoError(t, err)
		got, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "Echo: "+line, got)
	}
}

func TestTCP_MaxConnections(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", []byte("HI\n"))}}
	o := startOrchestrator(t, table, Options{MaxConnections: 1})
	addr := addrOf(t, o, model.ProtocolTCP, "svc")

	first := dial(t, addr)
	assert.Equal(t, "HI\n", readN(t, first, 3))

	// 名额被占用时第二个连接只完成握手，拿不到 banner
	second := dial(t, addr)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := second.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, isTimeout(err))
	assert.Equal(t, 1, o.Registry().Len())

	_, err = first.Write([]byte("quit"))
	require.NoError(t, err)
	expectClosed(t, first)

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	assert.Equal(t, "HI\n", readN(t, second, 3))
}

func TestUDP_Reply(t *testing.T) {
	table := model.ServiceTable{UDP: []model.UDPService{model.NewUDPService(0, "udp-ok", []byte("OK"))}}
	o := startOrchestrator(t, table, Options{})

	conn, err := net.Dial("udp", addrOf(t, o, model.ProtocolUDP, "udp-ok"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(buf[:n]))

	// 只回复一次
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, err = conn.Read(buf)
	assert.True(t, isTimeout(err))

	assert.Eventually(t, func() bool {
		stats := o.Stats().Responders[0]
		return stats.Datagrams == 1 && stats.Replies == 1
	}, time.Second, 10*time.Millisecond)
}

func TestUDP_BinaryReply(t *testing.T) {
	reply := append([]byte{0x30, 0x82}, []byte("FAKE-SNMP")...)
	table := model.ServiceTable{UDP: []model.UDPService{model.NewUDPService(0, "snmp", reply)}}
	o := startOrchestrator(t, table, Options{})

	conn, err := net.Dial("udp", addrOf(t, o, model.ProtocolUDP, "snmp"))
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		_, err = conn.Write([]byte{byte(i)})
		require.NoError(t, err)

		buf := make([]byte, 64)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, reply, buf[:n])
	}
}

func TestShutdown_ClosesAllConnections(t *testing.T) {
	const n = 5
	table := model.ServiceTable{
		TCP: []model.TCPService{
			model.NewTCPService(0, "a", []byte("A\n")),
			model.NewTCPService(0, "b", []byte("B\n")),
		},
		UDP: []model.UDPService{model.NewUDPService(0, "u", []byte("OK"))},
	}
	o := startOrchestrator(t, table, Options{})
	addrA := addrOf(t, o, model.ProtocolTCP, "a")
	addrB := addrOf(t, o, model.ProtocolTCP, "b")

	var conns []net.Conn
	for i := 0; i < n; i++ {
		addr := addrA
		if i%2 == 1 {
			addr = addrB
		}
		conn := dial(t, addr)
		readN(t, conn, 2)
		conns = append(conns, conn)
	}
	require.Equal(t, n, o.Registry().Len())

	report := o.Shutdown(context.Background())
	assert.Equal(t, 2, report.ListenersStopped)
	assert.Equal(t, 1, report.RespondersClosed)
	assert.Equal(t, n, report.ConnectionsClosed)
	assert.Zero(t, report.ConnectionsTimedOut)
	assert.Zero(t, report.Remaining)
	assert.Zero(t, o.Registry().Len())

	added, removed := o.Registry().Totals()
	assert.Equal(t, uint64(n), added)
	assert.Equal(t, uint64(n), removed, "each connection removed exactly once")

	for _, conn := range conns {
		expectClosed(t, conn)
	}

	// 监听器已关闭
	_, err := net.DialTimeout("tcp", addrA, 200*time.Millisecond)
	assert.Error(t, err)

	assert.True(t, o.Signal().Fired())
	assert.Equal(t, report, o.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestShutdown_InterruptsBlockedWrite(t *testing.T) {
	// 对端从不读取，banner 写入会在发送缓冲区满后挂起
	banner := bytes.Repeat([]byte("B"), 32<<20)
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "big", banner)}}
	o := startOrchestrator(t, table, Options{ShutdownTimeout: 5 * time.Second})

	dial(t, addrOf(t, o, model.ProtocolTCP, "big"))
	require.Eventually(t, func() bool { return o.Registry().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateAccepted, o.Registry().Snapshot()[0].State(), "still writing the banner")

	report := o.Shutdown(context.Background())
	assert.Equal(t, 1, report.ConnectionsClosed)
	assert.Zero(t, report.ConnectionsTimedOut)
	assert.Zero(t, report.Remaining)
	assert.Less(t, report.Duration, 5*time.Second)
	assert.Zero(t, o.Registry().Len())

	stats := o.Stats()
	require.Len(t, stats.Listeners, 1)
	assert.Equal(t, uint64(1), stats.Listeners[0].Closed["cancelled"])
}

func TestShutdown_TimeoutRemovesUnconfirmed(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", []byte("HI\n"))}}
	o := startOrchestrator(t, table, Options{ShutdownTimeout: 100 * time.Millisecond})

	conn := dial(t, addrOf(t, o, model.ProtocolTCP, "svc"))
	readN(t, conn, 3)

	// 没有处理协程的条目永远不会确认关闭，id 更大，排在清理顺序的最后
	server, client := net.Pipe()
	defer client.Close()
	stuck := o.Registry().Register("stuck", 0, server)
	require.Equal(t, 2, o.Registry().Len())

	report := o.Shutdown(context.Background())
	assert.Equal(t, 1, report.ConnectionsClosed)
	assert.Equal(t, 1, report.ConnectionsTimedOut)
	assert.Zero(t, report.Remaining)
	assert.Zero(t, o.Registry().Len())
	assert.False(t, o.Registry().Remove(stuck), "already removed by the sweep")

	added, removed := o.Registry().Totals()
	assert.Equal(t, added, removed)
	expectClosed(t, conn)
}

func TestShutdown_ConcurrentQuit(t *testing.T) {
	const clients = 20
	for round := 0; round < 5; round++ {
		t.Run(strconv.Itoa(round), func(t *testing.T) {
			table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", []byte("HI\n"))}}
			o := startOrchestrator(t, table, Options{})
			addr := addrOf(t, o, model.ProtocolTCP, "svc")

			conns := make([]net.Conn, clients)
			for i := range conns {
				conns[i] = dial(t, addr)
				readN(t, conns[i], 3)
			}
			require.Eventually(t, func() bool { return o.Registry().Len() == clients }, 2*time.Second, 10*time.Millisecond)

			var wg sync.WaitGroup
			start := make(chan struct{})
			for _, conn := range conns {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, _ = conn.Write([]byte("quit"))
				}()
			}
			close(start)
			report := o.Shutdown(context.Background())
			wg.Wait()

			assert.Zero(t, report.ConnectionsTimedOut)
			assert.Zero(t, report.Remaining)
			assert.LessOrEqual(t, report.ConnectionsClosed, clients)
			assert.Zero(t, o.Registry().Len())

			added, removed := o.Registry().Totals()
			assert.Equal(t, uint64(clients), added)
			assert.Equal(t, uint64(clients), removed, "each connection removed exactly once")
			for _, conn := range conns {
				expectClosed(t, conn)
			}
		})
	}
}

func TestShutdown_ViaSignal(t *testing.T) {
	table := model.ServiceTable{TCP: []model.TCPService{model.NewTCPService(0, "svc", []byte("HI\n"))}}
	o := startOrchestrator(t, table, Options{})

	conn := dial(t, addrOf(t, o, model.ProtocolTCP, "svc"))
	readN(t, conn, 3)

	go func() {
		time.Sleep(50 * time.Millisecond)
		o.Signal().Fire()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := o.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ConnectionsClosed)
	expectClosed(t, conn)
}

func TestStart_Errors(t *testing.T) {
	o := NewOrchestrator(model.ServiceTable{}, Options{Host: "127.0.0.1"}, nil, nil)
	require.NoError(t, o.Start(context.Background()))
	assert.ErrorIs(t, o.Start(context.Background()), ErrAlreadyStarted)

	o.Shutdown(context.Background())

	fired := NewShutdownSignal()
	fired.Fire()
	o2 := NewOrchestrator(model.ServiceTable{}, Options{Host: "127.0.0.1"}, nil, fired)
	assert.ErrorIs(t, o2.Start(context.Background()), ErrShutdownInProgress)
}

func TestWait_NotStarted(t *testing.T) {
	o := NewOrchestrator(model.ServiceTable{}, Options{Host: "127.0.0.1"}, nil, nil)
	_, err := o.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	// 信号已触发时直接返回关闭结果
	o.Signal().Fire()
	report, err := o.Wait(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.ListenersStopped)
}

func TestStart_BindFailureReleasesPorts(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	busyPort := occupied.Addr().(*net.TCPAddr).Port

	// 先拿到一个空闲端口
	spare, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	freePort := spare.Addr().(*net.TCPAddr).Port
	require.NoError(t, spare.Close())

	table := model.ServiceTable{TCP: []model.TCPService{
		model.NewTCPService(freePort, "free", nil),
		model.NewTCPService(busyPort, "busy", nil),
	}}
	o := NewOrchestrator(table, Options{Host: "127.0.0.1"}, nil, nil)
	err = o.Start(context.Background())
	require.Error(t, err)

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, "tcp", bindErr.Proto)
	assert.Equal(t, "busy", bindErr.Service)
	assert.Empty(t, o.Bindings())

	// 已绑定的端口被释放
	again, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort)))
	require.NoError(t, err)
	again.Close()
}

func TestStart_InvalidTable(t *testing.T) {
	table := model.ServiceTable{UDP: []model.UDPService{
		model.NewUDPService(5353, "a", nil),
		model.NewUDPService(5353, "b", nil),
	}}
	o := NewOrchestrator(table, Options{}, nil, nil)
	assert.Error(t, o.Start(context.Background()))
}
