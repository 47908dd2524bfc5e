package appcast

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultFeedFile is the conventional Sparkle feed filename.
const DefaultFeedFile = "appcast.xml"

// githubRepoPattern matches a bare GitHub repository URL with no deeper path.
var githubRepoPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)$`)

// ResolveFeedURL computes the concrete upstream URL for an application's
// stored base URL and the requested feed filename. Rule order matters: a base
// URL that already names an .xml file is handled before the GitHub shorthand,
// so a GitHub URL pointing at a specific file is never rewritten to the
// raw-content form.
func ResolveFeedURL(baseURL, filename string) string {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")

	if strings.HasSuffix(base, ".xml") {
		if filename == DefaultFeedFile || strings.HasSuffix(base, "/"+filename) {
			return ensureScheme(base)
		}
		// The base names a different feed file than requested: swap the
		// last path segment for the requested filename.
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[:idx]
		}
		return ensureScheme(base + "/" + filename)
	}

	if m := githubRepoPattern.FindStringSubmatch(base); m != nil {
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/main/%s", m[1], m[2], filename)
	}

	return ensureScheme(base) + "/" + filename
}

func ensureScheme(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return "https://" + u
}
