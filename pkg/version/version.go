// Package version holds build-time identification, injected via ldflags.
package version

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// GitCommit is the short commit hash of this build.
	GitCommit = "unknown"
)
