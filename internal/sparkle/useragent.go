package sparkle

import (
	"regexp"
	"strings"
)

// Sparkle clients identify themselves as "<AppName>/<Version>", optionally
// followed by the framework's own "Sparkle/<Version>" token. AppName is any
// run of characters without a slash; versions are runs of non-whitespace.
var userAgentPattern = regexp.MustCompile(`^([^/]+)/(\S+)(?:\s+Sparkle/(\S+))?$`)

// UserAgent holds the fields parsed from a Sparkle client User-Agent header.
type UserAgent struct {
	AppName        string
	AppVersion     string
	SparkleVersion string
}

// ParseUserAgent parses a raw User-Agent header. A header that does not match
// the Sparkle shape yields ok=false; that is not an error, callers continue
// without User-Agent-derived identity.
func ParseUserAgent(header string) (UserAgent, bool) {
	m := userAgentPattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return UserAgent{}, false
	}
	return UserAgent{
		AppName:        strings.TrimSpace(m[1]),
		AppVersion:     m[2],
		SparkleVersion: m[3],
	}, true
}
