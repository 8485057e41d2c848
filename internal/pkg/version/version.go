// 版本信息，发布时通过 -ldflags "-X neodecoy/internal/pkg/version.GitCommit=..." 注入构建信息

package version

import "runtime"

var (
	Version    = "0.3.0" // 版本号 -- 发布时候更新版本号
	APIVersion = "1.0"
	BuildTime  string
	GitCommit  string
	GoVersion  = runtime.Version()
)

// Info 版本信息，用于 version 命令和 /version 接口
type Info struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	BuildTime  string `json:"build_time,omitempty"`
	GitCommit  string `json:"git_commit,omitempty"`
	GoVersion  string `json:"go_version"`
}

func GetVersion() string {
	return Version
}

func GetInfo() Info {
	return Info{
		Version:    Version,
		APIVersion: APIVersion,
		BuildTime:  BuildTime,
		GitCommit:  GitCommit,
		GoVersion:  GoVersion,
	}
}

// GetFullVersion 带提交号的版本，例如 0.3.0 (a1b2c3d)
func GetFullVersion() string {
	if GitCommit == "" {
		return Version
	}
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return Version + " (" + commit + ")"
}
