// Package version exposes build metadata set via -ldflags.
package version

// Populated at build time:
//
//	go build -ldflags "-X github.com/launchpointhq/liveboard/internal/version.Version=v1.2.0 \
//	                   -X github.com/launchpointhq/liveboard/internal/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "dev"
	Commit  = "unknown"
)
