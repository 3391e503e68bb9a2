// Package version exposes build metadata injected at link time.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden via -ldflags at build time. When built without ldflags
// (go install, tests) the commit falls back to module build info.
var (
	Release   = "dev"
	GitCommit = ""
)

// Short returns just the release string.
func Short() string {
	return Release
}

// Full returns the release plus the commit it was built from.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Release, commit())
}

// FullWithPlatform returns the full version plus the target platform.
func FullWithPlatform() string {
	return fmt.Sprintf("%s (commit: %s, %s/%s)", Release, commit(), runtime.GOOS, runtime.GOARCH)
}

func commit() string {
	if GitCommit != "" {
		return GitCommit
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}

	return "unknown"
}
