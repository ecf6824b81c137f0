// Package version holds build information, set with -ldflags at release.
package version

var (
	// Version is the release version.
	Version = "0.1.0"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// FeatureSet identifies the set of runtime features the node enables.
const FeatureSet uint32 = 1
