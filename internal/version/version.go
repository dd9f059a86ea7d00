// Package version carries build metadata, set with -ldflags -X at release.
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String is the one-line form printed by -version and reported in status.
func String() string {
	return fmt.Sprintf("fleettrack %s (%s, built %s)", Version, GitSHA, BuildTime)
}
