package internal

import (
	"fmt"
	"runtime"
)

// Version is the current version of collabroom
// This should be updated with each release
const Version = "0.4.0"

// VersionString is what -version prints and /healthz reports.
func VersionString() string {
	return fmt.Sprintf("collabroom %s (%s/%s, %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
