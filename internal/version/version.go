// Package version holds build information set at link time.
package version

// Version is overridden with -ldflags "-X github.com/aristath/hosd/internal/version.Version=..."
var Version = "dev"
