package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoConfigFile 没有使用配置文件时无法监听
var ErrNoConfigFile = errors.New("no config file in use")

// ConfigWatcher 配置文件监听器
//
// 文件写入后（防抖）重新加载配置并依次调用回调。
// 监听器本身不决定哪些配置可以热更新，由回调自行判断。
type ConfigWatcher struct {
	loader      *ConfigLoader
	configFile  string
	watcher     *fsnotify.Watcher
	callbacks   []ConfigChangeCallback
	onError     func(error)
	config      *Config
	mu          sync.RWMutex
	reloadDelay time.Duration
	timer       *time.Timer
	timerMu     sync.Mutex
	reloadMu    sync.Mutex
	started     atomic.Bool
	done        chan struct{}
}

// ConfigChangeCallback 配置变更回调函数
type ConfigChangeCallback func(oldConfig, newConfig *Config) error

// NewConfigWatcher 创建配置监听器，initial 为当前生效的配置
func NewConfigWatcher(loader *ConfigLoader, initial *Config) (*ConfigWatcher, error) {
	if loader.GetConfigPath() == "" {
		return nil, ErrNoConfigFile
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &ConfigWatcher{
		loader:      loader,
		configFile:  filepath.Clean(loader.GetConfigPath()),
		watcher:     watcher,
		config:      initial,
		onError:     func(error) {},
		reloadDelay: 500 * time.Millisecond, // 防抖延迟
		done:        make(chan struct{}),
	}, nil
}

// SetReloadDelay 设置防抖延迟
func (cw *ConfigWatcher) SetReloadDelay(d time.Duration) {
	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()
	cw.reloadDelay = d
}

// OnError 设置错误处理函数（加载失败、回调失败、监听错误）
func (cw *ConfigWatcher) OnError(fn func(error)) {
	if fn != nil {
		cw.onError = fn
	}
}

// AddCallback 添加配置变更回调
func (cw *ConfigWatcher) AddCallback(callback ConfigChangeCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Start 开始监听，ctx 取消或 Stop 后退出
// 监听配置文件所在目录：编辑器先写临时文件再重命名覆盖时，对文件本身的监听会失效
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.configFile)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config dir %s: %w", dir, err)
	}

	cw.started.Store(true)
	go cw.watchLoop(ctx)
	return nil
}

// Stop 停止监听
func (cw *ConfigWatcher) Stop() error {
	err := cw.watcher.Close()
	if cw.started.Load() {
		<-cw.done
	}

	cw.timerMu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timerMu.Unlock()
	return err
}

// GetConfig 获取当前配置
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	defer close(cw.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleFileEvent(event)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.onError(fmt.Errorf("config watcher: %w", err))
		}
	}
}

// handleFileEvent 只关心配置文件的写入和创建，重命名覆盖在目录上表现为 Create
func (cw *ConfigWatcher) handleFileEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != cw.configFile {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.reloadDelay, func() {
		if err := cw.reloadConfig(); err != nil {
			cw.onError(err)
		}
	})
}

func (cw *ConfigWatcher) reloadConfig() error {
	cw.reloadMu.Lock()
	defer cw.reloadMu.Unlock()

	newConfig, err := cw.loader.Reload()
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	cw.mu.RLock()
	oldConfig := cw.config
	callbacks := append([]ConfigChangeCallback(nil), cw.callbacks...)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			return fmt.Errorf("config change callback failed: %w", err)
		}
	}

	cw.mu.Lock()
	cw.config = newConfig
	cw.mu.Unlock()
	return nil
}

// ServicesChanged 服务表或监听参数是否变化，这些配置只能重启生效
func ServicesChanged(oldConfig, newConfig *Config) bool {
	if oldConfig == nil || newConfig == nil {
		return oldConfig != newConfig
	}
	return !reflect.DeepEqual(oldConfig.Services, newConfig.Services) ||
		!reflect.DeepEqual(oldConfig.Server, newConfig.Server)
}
