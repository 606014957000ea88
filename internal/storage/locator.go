// Package storage resolves stored media locators against the configured
// backends: primary object storage, a legacy bucket kept for migrated
// uploads, the local ephemeral cache, and the external hosting platform.
package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies which backend a locator addresses.
type Kind string

const (
	KindPrimary Kind = "primary"
	KindLegacy  Kind = "legacy"
	KindLocal   Kind = "local"
	KindHosted  Kind = "hosted"
)

const (
	primaryScheme = "s3://"
	legacyScheme  = "legacy-s3://"
	hostedScheme  = "hosted:"
)

// Locator is a parsed storage address. Bucket and Key are set for the cloud
// kinds, Path for local cache files, and ExternalID for hosted references.
type Locator struct {
	Raw        string
	Kind       Kind
	Bucket     string
	Key        string
	Path       string
	ExternalID string
}

// Sniff detects the backend kind from the locator's scheme or domain pattern.
// Detection never consults a "current backend" setting: the same locator must
// resolve identically regardless of which backend new uploads go to.
// legacyHost is the legacy bucket's endpoint host, used to recognize old
// https-form locators persisted before the scheme prefixes existed.
func Sniff(raw, legacyHost string) (Locator, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}

	switch {
	case strings.HasPrefix(trimmed, primaryScheme):
		bucket, key, err := splitBucketKey(strings.TrimPrefix(trimmed, primaryScheme))
		if err != nil {
			return Locator{}, fmt.Errorf("primary locator %q: %w", trimmed, err)
		}
		return Locator{Raw: trimmed, Kind: KindPrimary, Bucket: bucket, Key: key}, nil

	case strings.HasPrefix(trimmed, legacyScheme):
		bucket, key, err := splitBucketKey(strings.TrimPrefix(trimmed, legacyScheme))
		if err != nil {
			return Locator{}, fmt.Errorf("legacy locator %q: %w", trimmed, err)
		}
		return Locator{Raw: trimmed, Kind: KindLegacy, Bucket: bucket, Key: key}, nil

	case strings.HasPrefix(trimmed, hostedScheme):
		id := strings.TrimSpace(strings.TrimPrefix(trimmed, hostedScheme))
		if id == "" {
			return Locator{}, fmt.Errorf("hosted locator %q missing identifier", trimmed)
		}
		return Locator{Raw: trimmed, Kind: KindHosted, ExternalID: id}, nil

	case strings.HasPrefix(trimmed, "https://") || strings.HasPrefix(trimmed, "http://"):
		return sniffURL(trimmed, legacyHost)

	default:
		// Anything else is a filesystem path into the local cache.
		return Locator{Raw: trimmed, Kind: KindLocal, Path: trimmed}, nil
	}
}

// sniffURL classifies persisted https-form locators: path-style URLs on the
// legacy endpoint map to the legacy bucket, everything else is treated as an
// external hosted stream.
func sniffURL(raw, legacyHost string) (Locator, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("parse locator url %q: %w", raw, err)
	}

	if legacyHost != "" && strings.EqualFold(parsed.Host, legacyHost) {
		bucket, key, err := splitBucketKey(strings.TrimPrefix(parsed.Path, "/"))
		if err != nil {
			return Locator{}, fmt.Errorf("legacy url locator %q: %w", raw, err)
		}
		return Locator{Raw: raw, Kind: KindLegacy, Bucket: bucket, Key: key}, nil
	}

	return Locator{Raw: raw, Kind: KindHosted, ExternalID: raw}, nil
}

func splitBucketKey(rest string) (string, string, error) {
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("expected bucket/key form")
	}
	return bucket, key, nil
}

// Basename strips scheme and bucket prefixes and returns the final path
// element of a locator, for filename-fallback matching.
func Basename(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for _, prefix := range []string{primaryScheme, legacyScheme, hostedScheme, "https://", "http://"} {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	trimmed = strings.ReplaceAll(trimmed, "\\", "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}
