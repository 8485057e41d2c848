package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// EnvLoader 把 .env 文件中的变量注入进程环境，供 ConfigLoader 的 AutomaticEnv 读取
// 进程中已存在的变量优先
type EnvLoader struct {
	envFiles []string
	loaded   []string
	applied  map[string]string // key -> 来源文件
}

// NewEnvLoader 未指定文件时使用 ./.env
func NewEnvLoader(envFiles ...string) *EnvLoader {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	return &EnvLoader{envFiles: envFiles, applied: make(map[string]string)}
}

// Load 依次读取 .env 文件，不存在的文件跳过
// 多个文件定义同一变量时先出现的生效
func (e *EnvLoader) Load() error {
	for _, envFile := range e.envFiles {
		if envFile == "" {
			continue
		}
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			continue
		}

		values, err := godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		for key, value := range values {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set %s from %s: %w", key, envFile, err)
			}
			e.applied[key] = envFile
		}
		e.loaded = append(e.loaded, envFile)
	}
	return nil
}

// Loaded 实际读取过的文件
func (e *EnvLoader) Loaded() []string {
	return e.loaded
}

// Applied 由 .env 注入且带指定前缀的变量名，已排序
func (e *EnvLoader) Applied(prefix string) []string {
	keys := make([]string, 0, len(e.applied))
	for key := range e.applied {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Source 变量来自哪个 .env 文件，非 .env 注入时返回空
func (e *EnvLoader) Source(key string) string {
	return e.applied[key]
}
