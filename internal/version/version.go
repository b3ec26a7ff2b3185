// Package version exposes build metadata for the storyloom binaries.
package version

import (
	"fmt"
	"runtime"
)

// These are stamped at build time:
//
//	go build -ldflags "-X github.com/storyloom/storyloom/internal/version.Version=x.y.z \
//	                   -X github.com/storyloom/storyloom/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/storyloom/storyloom/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

const appName = "storyloom"

// Info is the structured form served by the health endpoint and the
// version command's JSON output.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo collects the build metadata and runtime platform.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the full version line for the version command.
func String() string {
	info := GetInfo()
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			appName, info.Version, c, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", appName, info.Version, info.GoVersion, info.Platform)
}

// Short renders the compact form used for cobra's --version flag.
func Short() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s %s (%s)", appName, Version, c)
	}
	return appName + " " + Version
}

func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return ""
	}
	return Commit[:8]
}
