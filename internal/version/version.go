// Package appversion provides build version information injected via ldflags.
//
// All variables are set at build time:
//
//	-ldflags="-X github.com/dantte-lp/gocsit/internal/version.Version=v1.0.0
//	          -X github.com/dantte-lp/gocsit/internal/version.GitCommit=abc1234
//	          -X github.com/dantte-lp/gocsit/internal/version.BuildDate=2026-02-22T12:00:00Z"
package appversion

import (
	"fmt"
	"runtime"
)

// Version is the semantic version (e.g., "v0.1.0" or "dev").
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"

// Info is the build information in a form the CLI can render as JSON or YAML.
type Info struct {
	Binary    string `json:"binary"     yaml:"binary"`
	Version   string `json:"version"    yaml:"version"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the build information of binary.
func Get(binary string) Info {
	return Info{
		Binary:    binary,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// Full returns a human-readable multi-line version string.
func Full(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:  %s\n  built:   %s\n  go:      %s",
		binary, Version, GitCommit, BuildDate, runtime.Version())
}
