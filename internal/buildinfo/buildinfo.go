// Package buildinfo holds the version metadata stamped into codexgate binaries.
package buildinfo

import "fmt"

// Overridden via -ldflags "-X" in release builds.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders the metadata on one line for the startup banner.
func String() string {
	return fmt.Sprintf("Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)
}
