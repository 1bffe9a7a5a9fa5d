package version

import "fmt"

// Name is the binary name reported in banners and user agents.
const Name = "whalewatch"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent is sent on outbound HTTP calls.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}
