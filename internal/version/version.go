// Package version holds build-time version information for gateway
// binaries. The variables are injected via -ldflags:
//
// -X github.com/ferro-labs/llm-gateway/internal/version.Version=v0.1.0
// -X github.com/ferro-labs/llm-gateway/internal/version.Commit=abc1234
// -X github.com/ferro-labs/llm-gateway/internal/version.Date=2026-08-24T00:00:00Z
//
// so local builds without ldflags still produce sensible output.
package version

import "fmt"

// Variables set at link time. Default to dev values.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a human-readable version line.
func String() string {
	return fmt.Sprintf("llmgw %s (commit %s, built %s)", Version, Commit, Date)
}
