package version

import (
	"runtime/debug"
)

// fallback is reported when the binary carries no module version, e.g. when
// built from a working tree with `go build`.
const fallback = "1.2-beta"

var version = "unknown"

func init() {
	bi, ok := debug.ReadBuildInfo()
	if ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		version = bi.Main.Version
	} else {
		version = fallback
	}
}

func GetVersion() string {
	return version
}

// Identity is the string answered to agent.version queries.
func Identity() string {
	return "zapcat " + version
}
