// Package version holds build metadata stamped in at link time with
// -ldflags "-X github.com/pointscape/pointscape/internal/version.Version=...".
package version

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
