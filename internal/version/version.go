// Package version reports the build identity of the binary.
package version

import (
	"runtime"
	"runtime/debug"
)

// Name of the application.
const Name = "Cerberus"

var (
	// Version is the semantic version.
	Version = "0.1.0"
	// BuildTime is set during build via ldflags.
	BuildTime = "unknown"
	// GitCommit is set during build via ldflags, or read from the VCS stamp
	// the Go toolchain embeds.
	GitCommit = "unknown"
)

func init() {
	if GitCommit != "unknown" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 12 {
				s.Value = s.Value[:12]
			}
			GitCommit = s.Value
		case "vcs.time":
			if BuildTime == "unknown" {
				BuildTime = s.Value
			}
		}
	}
}

// Full returns the version with commit and build time when known.
func Full() string {
	if BuildTime != "unknown" && GitCommit != "unknown" {
		return Version + " (commit: " + GitCommit + ", built: " + BuildTime + ")"
	}
	return Version
}

// Banner returns the name, full version and Go runtime, as printed by the CLI.
func Banner() string {
	return Name + " " + Full() + " " + runtime.Version()
}
