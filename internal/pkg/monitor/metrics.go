package monitor

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"neodecoy/internal/pkg/logger"
)

// HostInfo 主机静态信息
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
	CPUCores        int    `json:"cpu_cores"`
	MemoryTotal     uint64 `json:"memory_total"`
}

// ProcessMetrics 当前进程的运行指标
type ProcessMetrics struct {
	PID         int32   `json:"pid"`
	Uptime      string  `json:"uptime"`
	Goroutines  int     `json:"goroutines"`
	RSS         uint64  `json:"rss"`
	CPUPercent  float64 `json:"cpu_percent"`
	OpenFiles   int32   `json:"open_files"`
	MemoryUsage float64 `json:"memory_usage"` // 主机内存使用率
}

var (
	hostOnce   sync.Once
	cachedHost *HostInfo
	startedAt  = time.Now()
)

// GetHostInfo 获取主机静态信息，结果在进程内缓存
// 采集失败的字段回退到 runtime 的值，不返回错误
func GetHostInfo() *HostInfo {
	hostOnce.Do(func() {
		cachedHost = collectHostInfo()
	})
	info := *cachedHost
	return &info
}

func collectHostInfo() *HostInfo {
	info := &HostInfo{}

	hInfo, err := host.Info()
	if err != nil {
		logger.LogSystemEvent("Monitor", "GetHostInfo", "Failed to get host info: "+err.Error(), logger.WarnLevel, nil)
	} else {
		info.Hostname = hInfo.Hostname
		info.OS = hInfo.OS
		info.Platform = hInfo.Platform
		info.PlatformVersion = hInfo.PlatformVersion
		info.KernelVersion = hInfo.KernelVersion
		info.Arch = hInfo.KernelArch
	}
	if info.OS == "" {
		info.OS = runtime.GOOS
	}
	if info.Arch == "" {
		info.Arch = runtime.GOARCH
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}

	cores, err := cpu.Counts(true)
	if err != nil || cores == 0 {
		cores = runtime.NumCPU()
	}
	info.CPUCores = cores

	vMem, err := mem.VirtualMemory()
	if err != nil {
		logger.LogSystemEvent("Monitor", "GetHostInfo", "Failed to get Memory info: "+err.Error(), logger.WarnLevel, nil)
	} else {
		info.MemoryTotal = vMem.Total
	}

	return info
}

// GetProcessMetrics 获取当前进程指标
// 单项采集失败只记录日志，对应字段保持零值
func GetProcessMetrics() *ProcessMetrics {
	metrics := &ProcessMetrics{
		PID:        int32(os.Getpid()),
		Uptime:     time.Since(startedAt).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	proc, err := process.NewProcess(metrics.PID)
	if err != nil {
		logger.LogSystemEvent("Monitor", "GetProcessMetrics", "Failed to open process: "+err.Error(), logger.WarnLevel, nil)
		return metrics
	}

	if memInfo, err := proc.MemoryInfo(); err == nil {
		metrics.RSS = memInfo.RSS
	}
	if pct, err := proc.CPUPercent(); err == nil {
		metrics.CPUPercent = pct
	}
	// Windows 上不支持
	if fds, err := proc.NumFDs(); err == nil {
		metrics.OpenFiles = fds
	}

	if vMem, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryUsage = vMem.UsedPercent
	}

	return metrics
}
