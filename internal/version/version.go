// Package version exposes the taskdeck build identity reported by the
// server's /api/version endpoint.
package version

// Stamped via -ldflags at release build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
