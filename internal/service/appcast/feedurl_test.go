package appcast

import "testing"

func TestResolveFeedURL(t *testing.T) {
	cases := []struct {
		name     string
		base     string
		filename string
		want     string
	}{
		{
			name:     "github repo shorthand",
			base:     "https://github.com/acme/widget",
			filename: "appcast.xml",
			want:     "https://raw.githubusercontent.com/acme/widget/refs/heads/main/appcast.xml",
		},
		{
			name:     "github repo shorthand with custom filename",
			base:     "https://github.com/acme/widget",
			filename: "beta.xml",
			want:     "https://raw.githubusercontent.com/acme/widget/refs/heads/main/beta.xml",
		},
		{
			name:     "github url with deeper path is not rewritten",
			base:     "https://github.com/acme/widget/releases",
			filename: "appcast.xml",
			want:     "https://github.com/acme/widget/releases/appcast.xml",
		},
		{
			name:     "base already names the default feed file",
			base:     "https://example.com/feeds/appcast.xml",
			filename: "appcast.xml",
			want:     "https://example.com/feeds/appcast.xml",
		},
		{
			name:     "base names an xml file and default was requested",
			base:     "https://example.com/feeds/beta.xml",
			filename: "appcast.xml",
			want:     "https://example.com/feeds/beta.xml",
		},
		{
			name:     "base names the requested non-default file",
			base:     "https://example.com/feeds/beta.xml",
			filename: "beta.xml",
			want:     "https://example.com/feeds/beta.xml",
		},
		{
			name:     "requested file replaces the base xml filename",
			base:     "https://example.com/feeds/appcast.xml",
			filename: "beta.xml",
			want:     "https://example.com/feeds/beta.xml",
		},
		{
			name:     "xml base on github stays file based",
			base:     "https://github.com/acme/widget/raw/main/appcast.xml",
			filename: "appcast.xml",
			want:     "https://github.com/acme/widget/raw/main/appcast.xml",
		},
		{
			name:     "plain base gets the filename appended",
			base:     "https://example.com/updates",
			filename: "appcast.xml",
			want:     "https://example.com/updates/appcast.xml",
		},
		{
			name:     "trailing slash is trimmed before appending",
			base:     "https://example.com/updates/",
			filename: "appcast.xml",
			want:     "https://example.com/updates/appcast.xml",
		},
		{
			name:     "scheme is added when missing",
			base:     "example.com/updates",
			filename: "appcast.xml",
			want:     "https://example.com/updates/appcast.xml",
		},
		{
			name:     "http scheme is preserved",
			base:     "http://example.com/updates",
			filename: "appcast.xml",
			want:     "http://example.com/updates/appcast.xml",
		},
		{
			name:     "scheme is added to a bare xml base",
			base:     "example.com/feeds/appcast.xml",
			filename: "appcast.xml",
			want:     "https://example.com/feeds/appcast.xml",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveFeedURL(tc.base, tc.filename)
			if got != tc.want {
				t.Fatalf("ResolveFeedURL(%q, %q) = %q, want %q", tc.base, tc.filename, got, tc.want)
			}
		})
	}
}
