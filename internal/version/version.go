// Package version reports build metadata.
package version

import (
	"fmt"
	"runtime/debug"
)

// Version is set at build time:
// go build -ldflags "-X git.home.luguber.info/inful/docstage/internal/version.Version=v0.3.0".
var Version = "unknown"

// Build metadata, also set via ldflags.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info returns the version, falling back to the module version recorded by
// the Go toolchain when nothing was injected.
func Info() (ver, commit string) {
	ver, commit = Version, GitCommit
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ver, commit
	}
	if ver == "unknown" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		ver = bi.Main.Version
	}
	if commit == "unknown" {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				commit = s.Value
			}
		}
	}
	return ver, commit
}

// String renders the version line printed by the CLI.
func String() string {
	ver, commit := Info()
	return fmt.Sprintf("docstage %s (commit %s, built %s)", ver, commit, BuildTime)
}
