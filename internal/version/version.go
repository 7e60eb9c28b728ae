// Package version contains build version information.
package version

import "fmt"

// Version is the released application version, set at build time via ldflags.
var Version = "0.0.0"

// GitCommit is the git commit hash.
var GitCommit = "unknown"

// BuildDate is the build date.
var BuildDate = "unknown"

// Info returns the build information as reported by GET /version.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
	}
}

// String formats the build information for the CLI.
func String() string {
	return fmt.Sprintf("job-alerts %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
