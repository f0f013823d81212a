package health

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/saiset-co/sai-cache/types"
)

// Version describes the running binary. BUILD_COMMIT and BUILD_TIME override
// the VCS stamps recorded by the toolchain.
func (hm *Manager) Version() types.VersionInfo {
	info := types.VersionInfo{
		Name:      hm.service.Name,
		Version:   hm.service.Version,
		GitCommit: "unknown",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if build, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range build.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.GitCommit = shortCommit(setting.Value)
			case "vcs.time":
				info.BuildTime = setting.Value
			}
		}
	}

	if commit := os.Getenv("BUILD_COMMIT"); commit != "" {
		info.GitCommit = shortCommit(commit)
	}
	if buildTime := os.Getenv("BUILD_TIME"); buildTime != "" {
		info.BuildTime = buildTime
	}

	return info
}

func shortCommit(commit string) string {
	return commit[:min(len(commit), 7)]
}
