package sparkle

import (
	"net/url"
	"strings"
)

// Field names accepted in structured payloads and query strings. The bundle
// identifier and the two extra version names are legacy aliases kept for
// older clients.
const (
	FieldBundleIdentifier = "bundleIdentifier"
	FieldAppName          = "appName"
	FieldAppVersion       = "appVersion"
	FieldShortVersion     = "bundleShortVersionString"
	FieldBundleVersion    = "bundleVersion"
)

// Source tags recording which mechanism supplied the application identifier.
const (
	SourceBundleID  = "bundleIdentifier"
	SourceAppName   = "appName"
	SourceUserAgent = "userAgent"
)

// Identity is the outcome of resolving which application is calling and in
// what version. Empty fields mean the mechanism yielded nothing.
type Identity struct {
	Identifier string
	Version    string
	Source     string
}

// Lookup returns the value of a candidate identity field, empty when absent.
type Lookup func(key string) string

// QueryLookup adapts a parsed query string to a field Lookup.
func QueryLookup(q url.Values) Lookup {
	return func(key string) string {
		return strings.TrimSpace(q.Get(key))
	}
}

// Resolve determines the application identifier and version from the supplied
// fields and the raw User-Agent header. Candidates are tried in a fixed
// priority order and the first non-empty one wins; an Identity with an empty
// Identifier means no mechanism could identify the caller.
func Resolve(get Lookup, userAgent string) Identity {
	ua, uaOK := ParseUserAgent(userAgent)

	identifierCandidates := []struct {
		value  string
		source string
	}{
		{get(FieldBundleIdentifier), SourceBundleID},
		{get(FieldAppName), SourceAppName},
		{ua.AppName, SourceUserAgent},
	}

	var ident Identity
	for _, c := range identifierCandidates {
		if c.value != "" {
			ident.Identifier = c.value
			ident.Source = c.source
			break
		}
	}

	for _, key := range []string{FieldAppVersion, FieldShortVersion, FieldBundleVersion} {
		if v := get(key); v != "" {
			ident.Version = v
			break
		}
	}
	if ident.Version == "" && uaOK {
		ident.Version = ua.AppVersion
	}

	return ident
}
