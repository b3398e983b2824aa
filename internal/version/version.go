// Package appversion provides build version information injected via ldflags.
//
//	-ldflags="-X github.com/dantte-lp/goldp/internal/version.Version=v0.3.0
//	          -X github.com/dantte-lp/goldp/internal/version.GitCommit=abc1234
//	          -X github.com/dantte-lp/goldp/internal/version.BuildDate=2026-10-01T12:00:00Z"
//
// Builds without ldflags fall back to the VCS stamp of the Go toolchain.
package appversion

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the semantic version (e.g., "v0.1.0" or "dev").
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"

// Info is the resolved build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the build information, filling unset fields from the
// binary's embedded VCS settings.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" && len(s.Value) >= 7 {
				info.GitCommit = s.Value[:7]
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		}
	}
	return info
}

// Full returns a human-readable multi-line version string.
func Full(binary string) string {
	return Get().Text(binary)
}

// Text renders i as the multi-line version block of binary.
func (i Info) Text(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:  %s\n  built:   %s\n  go:      %s",
		binary, i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}
