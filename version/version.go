package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// These variables are set at build time using -ldflags
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info is the resolved build identity of the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Dirty     bool   `json:"dirty"`
}

// Get resolves the build identity from ldflags and, for fields left unset,
// from the build info embedded in the binary.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = setting.Value
					if len(info.GitCommit) > 7 {
						info.GitCommit = info.GitCommit[:7]
					}
				}
			case "vcs.modified":
				info.Dirty = setting.Value == "true"
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = setting.Value
				}
			}
		}
	}

	return info
}

// Short returns "version" or "version-commit", with a dirty marker when the
// working tree was modified.
func Short() string {
	info := Get()
	out := info.Version
	if info.GitCommit != "" {
		out += "-" + info.GitCommit
	}
	if info.Dirty {
		out += "-dirty"
	}
	return out
}

// Full returns the short form plus the Go toolchain and build time.
func Full() string {
	info := Get()
	out := Short()
	if info.GoVersion != "" {
		out += " " + info.GoVersion
	}
	if info.BuildTime != "" {
		out += fmt.Sprintf(" (built %s)", info.BuildTime)
	}
	return out
}
