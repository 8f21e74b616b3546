// Package version carries build identification, set via -ldflags at
// release time.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the one-line build identification used by --version output
// and startup logs.
func String() string {
	return fmt.Sprintf("potentiostat %s (%s, built %s)", Version, GitSHA, BuildTime)
}
