// Package buildinfo exposes build-time metadata injected via -ldflags.
package buildinfo

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
