// Package version exposes the build version reported by /ping and the
// version subcommand.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is overridable by ldflags at build time.
	Version = "dev"
	// CommitHash is overridable by ldflags at build time; when empty it is
	// read from the embedded build info.
	CommitHash = ""
)

// Info returns the version string, with the short commit hash appended when
// known.
func Info() string {
	if CommitHash == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					CommitHash = setting.Value
				}
			}
		}
	}

	res := Version
	if CommitHash != "" {
		shortHash := CommitHash
		if len(shortHash) > 7 {
			shortHash = shortHash[:7]
		}
		res += fmt.Sprintf(" (%s)", shortHash)
	}
	return res
}
