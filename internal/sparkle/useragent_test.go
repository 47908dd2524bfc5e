package sparkle

import "testing"

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		ok      bool
		app     string
		version string
		sparkle string
	}{
		{name: "with sparkle token", header: "MyApp/2.1.3 Sparkle/2.0.0", ok: true, app: "MyApp", version: "2.1.3", sparkle: "2.0.0"},
		{name: "without sparkle token", header: "MyApp/2.1.3", ok: true, app: "MyApp", version: "2.1.3"},
		{name: "app name with spaces", header: "My App/1.0 Sparkle/1.27.1", ok: true, app: "My App", version: "1.0", sparkle: "1.27.1"},
		{name: "garbage", header: "garbage", ok: false},
		{name: "empty", header: "", ok: false},
		{name: "missing version", header: "MyApp/", ok: false},
		{name: "generic browser agent", header: "Mozilla/5.0 (Macintosh; Intel Mac OS X)", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ua, ok := ParseUserAgent(tc.header)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if !ok {
				return
			}
			if ua.AppName != tc.app {
				t.Fatalf("expected app %q, got %q", tc.app, ua.AppName)
			}
			if ua.AppVersion != tc.version {
				t.Fatalf("expected version %q, got %q", tc.version, ua.AppVersion)
			}
			if ua.SparkleVersion != tc.sparkle {
				t.Fatalf("expected sparkle version %q, got %q", tc.sparkle, ua.SparkleVersion)
			}
		})
	}
}
