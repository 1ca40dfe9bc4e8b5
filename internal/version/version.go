// Package version exposes build metadata stamped in via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Populated at build time:
//
//	go build -ldflags "-X agenthub/internal/version.Version=v1.2.3 ..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a single-line description of the running build.
func Info() string {
	return fmt.Sprintf("agenthub %s (commit: %s, built: %s, %s)", Version, Commit, Date, runtime.Version())
}
