// Package version carries build information, set at build time via ldflags.
package version

var (
	// VersionTag is the semantic version (if tagged)
	VersionTag = "dev"

	// CommitHash is the git commit hash when the binary was built
	CommitHash = "dev"

	// BuildTime is when the binary was built
	BuildTime = "unknown"
)
