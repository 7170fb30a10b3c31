// Package version carries build metadata stamped in at link time:
//
//	go build -ldflags "-X github.com/loykin/sidekick/internal/version.Version=1.2.0"
package version

import (
	"strings"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Dev reports whether this is a development build (no version stamped).
func Dev() bool {
	v := strings.TrimSpace(Version)
	return v == "" || v == "dev"
}

// String returns the version without a leading "v".
func String() string { return strings.TrimPrefix(strings.TrimSpace(Version), "v") }
