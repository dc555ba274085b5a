// Package buildinfo carries the version stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X tide/internal/buildinfo.Version=v0.3.0 -X tide/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns a compact build identifier for the window title and the
// boot log: the version when stamped, else the commit, else "dev".
func Short() string {
	switch {
	case Version != "" && Version != "dev":
		return Version
	case Commit != "" && Commit != "unknown":
		return Commit
	default:
		return "dev"
	}
}

// String is the full identifier.
func String() string {
	return fmt.Sprintf("tide %s (commit %s, built %s)", Version, Commit, Date)
}
