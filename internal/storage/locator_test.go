package storage

import "testing"

func TestSniffDetectsBackendKinds(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    Kind
		bucket  string
		key     string
		id      string
		path    string
		wantErr bool
	}{
		{name: "primary", raw: "s3://donecast-media/final/ep-1.mp3", want: KindPrimary, bucket: "donecast-media", key: "final/ep-1.mp3"},
		{name: "legacy scheme", raw: "legacy-s3://old-media/uploads/ep.mp3", want: KindLegacy, bucket: "old-media", key: "uploads/ep.mp3"},
		{name: "legacy https form", raw: "https://legacy.example.com/old-media/uploads/ep.mp3", want: KindLegacy, bucket: "old-media", key: "uploads/ep.mp3"},
		{name: "hosted id", raw: "hosted:ext-12345", want: KindHosted, id: "ext-12345"},
		{name: "hosted url", raw: "https://host.example.net/stream/abc", want: KindHosted, id: "https://host.example.net/stream/abc"},
		{name: "local path", raw: "/var/cache/donecast/ep.mp3", want: KindLocal, path: "/var/cache/donecast/ep.mp3"},
		{name: "relative local path", raw: "staging/ep.mp3", want: KindLocal, path: "staging/ep.mp3"},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "primary missing key", raw: "s3://bucket-only", wantErr: true},
		{name: "hosted missing id", raw: "hosted:", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			locator, err := Sniff(tc.raw, "legacy.example.com")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sniff(%q): %v", tc.raw, err)
			}
			if locator.Kind != tc.want {
				t.Fatalf("kind = %s, want %s", locator.Kind, tc.want)
			}
			if locator.Bucket != tc.bucket || locator.Key != tc.key {
				t.Fatalf("bucket/key = %q/%q, want %q/%q", locator.Bucket, locator.Key, tc.bucket, tc.key)
			}
			if locator.ExternalID != tc.id {
				t.Fatalf("external id = %q, want %q", locator.ExternalID, tc.id)
			}
			if locator.Path != tc.path {
				t.Fatalf("path = %q, want %q", locator.Path, tc.path)
			}
		})
	}
}

func TestSniffIgnoresCurrentBackendSetting(t *testing.T) {
	// The same locator must classify identically no matter which backend is
	// active for new uploads; only the locator text decides.
	first, err := Sniff("s3://donecast-media/a.mp3", "legacy.example.com")
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	second, err := Sniff("s3://donecast-media/a.mp3", "")
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if first.Kind != second.Kind {
		t.Fatalf("classification drifted: %s vs %s", first.Kind, second.Kind)
	}
}

func TestBasenameStripsSchemesAndPrefixes(t *testing.T) {
	cases := map[string]string{
		"s3://donecast-media/uploads/show/interview.mp3":   "interview.mp3",
		"legacy-s3://old/clips/outro.mp3":                  "outro.mp3",
		"https://legacy.example.com/old/uploads/intro.mp3": "intro.mp3",
		"C:\\Uploads\\episode.mp3":                         "episode.mp3",
		"plain.mp3":                                        "plain.mp3",
	}
	for raw, want := range cases {
		if got := Basename(raw); got != want {
			t.Errorf("Basename(%q) = %q, want %q", raw, got, want)
		}
	}
}
