// Package buildinfo exposes compile-time metadata for the scanclient binaries.
package buildinfo

import "fmt"

// The following variables are overridden via ldflags during release builds.
var (
	// Version is the semantic version or git describe output of the binary.
	Version = "dev"

	// Commit is the git commit SHA baked into the binary.
	Commit = "none"

	// BuildDate records when the binary was built in UTC.
	BuildDate = "unknown"
)

// UserAgent returns the User-Agent sent to the backend, e.g. "scanclient/1.2.0".
// base overrides the product name when non-empty.
func UserAgent(base string) string {
	if base == "" {
		base = "scanclient"
	}
	return base + "/" + Version
}

// String renders the version line printed by --version.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}
