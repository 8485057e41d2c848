/**
 * 服务表模型
 * @author: sun977
 * @date: 2026.02.10
 * @description: TCP/UDP 诱饵服务定义，启动时解析一次，之后只读
 */

package model

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
)

// DefaultReadBufferSize 回显循环单次读取的默认上限
const DefaultReadBufferSize = 1024

// Protocol 传输协议
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// TCPService TCP 服务：连接建立后立即发送 Banner（可为空）
type TCPService struct {
	Port   int
	Name   string
	Banner []byte
}

// UDPService UDP 服务：任何数据报都回复固定的 Reply
type UDPService struct {
	Port  int
	Name  string
	Reply []byte
}

// NewTCPService 创建 TCP 服务，Banner 会被复制
func NewTCPService(port int, name string, banner []byte) TCPService {
	return TCPService{Port: port, Name: name, Banner: bytes.Clone(banner)}
}

// NewUDPService 创建 UDP 服务，Reply 会被复制
func NewUDPService(port int, name string, reply []byte) UDPService {
	return UDPService{Port: port, Name: name, Reply: bytes.Clone(reply)}
}

// Label 用于日志和状态输出的服务名
func (s TCPService) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("tcp/%d", s.Port)
}

// Label 用于日志和状态输出的服务名
func (s UDPService) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("udp/%d", s.Port)
}

// ServiceTable 有序服务表
// 同一协议内端口唯一，TCP 与 UDP 之间可以复用端口
type ServiceTable struct {
	TCP []TCPService
	UDP []UDPService
}

// Validate 检查端口重复，端口 0 表示由系统分配，不参与重复检查
func (t ServiceTable) Validate() error {
	seen := make(map[int]bool, len(t.TCP))
	for _, svc := range t.TCP {
		if svc.Port < 0 || svc.Port > 65535 {
			return fmt.Errorf("tcp service %s: invalid port %d", svc.Label(), svc.Port)
		}
		if svc.Port != 0 && seen[svc.Port] {
			return fmt.Errorf("duplicate tcp port: %d", svc.Port)
		}
		seen[svc.Port] = true
	}

	seen = make(map[int]bool, len(t.UDP))
	for _, svc := range t.UDP {
		if svc.Port < 0 || svc.Port > 65535 {
			return fmt.Errorf("udp service %s: invalid port %d", svc.Label(), svc.Port)
		}
		if svc.Port != 0 && seen[svc.Port] {
			return fmt.Errorf("duplicate udp port: %d", svc.Port)
		}
		seen[svc.Port] = true
	}
	return nil
}

// Len 服务总数
func (t ServiceTable) Len() int {
	return len(t.TCP) + len(t.UDP)
}

// FirstLine 返回内容的第一行，用于状态输出
// 非法 UTF-8 和控制字符会被丢弃，二进制内容因此只保留可读部分
func FirstLine(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	line := b
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		line = b[:i]
	}
	s := strings.ToValidUTF8(string(line), "")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
