package responder

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// State TCP 连接生命周期状态
type State int32

const (
	StateAccepted State = iota
	StateBannerSent
	StateEchoLoop
	StateClosing
	StateClosed
)

var stateNames = [...]string{
	StateAccepted:   "accepted",
	StateBannerSent: "banner_sent",
	StateEchoLoop:   "echo_loop",
	StateClosing:    "closing",
	StateClosed:     "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connection 一个已接受的 TCP 连接
// 读写只由所属的处理协程进行，其他协程只能调用 ForceClose / Done / Info
type Connection struct {
	id         uint64
	service    string
	port       int
	conn       net.Conn
	peer       string
	local      string
	acceptedAt time.Time

	state     atomic.Int32
	forced    atomic.Bool
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
	closeOnce sync.Once
	closed    chan struct{}
}

// ConnectionInfo 连接快照，用于状态接口
type ConnectionInfo struct {
	ID         uint64    `json:"id"`
	Service    string    `json:"service"`
	Port       int       `json:"port"`
	Peer       string    `json:"peer"`
	Local      string    `json:"local"`
	State      State     `json:"state"`
	AcceptedAt time.Time `json:"accepted_at"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
}

func newConnection(id uint64, service string, port int, conn net.Conn) *Connection {
	c := &Connection{
		id:         id,
		service:    service,
		port:       port,
		conn:       conn,
		acceptedAt: time.Now(),
		closed:     make(chan struct{}),
	}
	if addr := conn.RemoteAddr(); addr != nil {
		c.peer = addr.String()
	}
	if addr := conn.LocalAddr(); addr != nil {
		c.local = addr.String()
	}
	return c
}

func (c *Connection) ID() uint64 { return c.id }

func (c *Connection) Service() string { return c.service }

func (c *Connection) Peer() string { return c.peer }

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// ForceClose 关闭底层连接，阻塞中的读写随即返回
// 可被任意协程多次调用
func (c *Connection) ForceClose() {
	c.forced.Store(true)
	c.closeStream()
}

// closeStream 关闭连接，错误忽略
func (c *Connection) closeStream() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// Done 连接进入 CLOSED 后关闭
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:         c.id,
		Service:    c.service,
		Port:       c.port,
		Peer:       c.peer,
		Local:      c.local,
		State:      c.State(),
		AcceptedAt: c.acceptedAt,
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
	}
}

// Registry 存活连接登记表
// 每个连接登记一次、移除一次，重复移除是无操作
type Registry struct {
	mu      sync.Mutex
	conns   map[uint64]*Connection
	nextID  uint64
	added   uint64
	removed uint64
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint64]*Connection)}
}

// Register 为新接受的连接分配 id 并登记
func (r *Registry) Register(service string, port int, conn net.Conn) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	c := newConnection(r.nextID, service, port, conn)
	r.conns[c.id] = c
	r.added++
	return c
}

// Remove 移除连接，只有第一次移除返回 true
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[c.id]; !ok || cur != c {
		return false
	}
	delete(r.conns, c.id)
	r.removed++
	return true
}

// Snapshot 按 id 排序的当前连接
func (r *Registry) Snapshot() []*Connection {
	r.mu.Lock()
	list := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		list = append(list, c)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) Infos() []ConnectionInfo {
	snapshot := r.Snapshot()
	infos := make([]ConnectionInfo, 0, len(snapshot))
	for _, c := range snapshot {
		infos = append(infos, c.Info())
	}
	return infos
}

// Totals 累计登记和移除的数量
func (r *Registry) Totals() (added, removed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.added, r.removed
}
