// Package version exposes the gemini-cli release version embedded from
// the VERSION file at build time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the gemini-cli version with surrounding whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}
