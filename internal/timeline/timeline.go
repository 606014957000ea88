// Package timeline implements the pure data transformations applied to a
// content timeline before mixing: edit-marker subtraction and background
// music rule matching.
package timeline

import (
	"sort"
	"strings"
)

// Interval is a half-open [Start, End) span of seconds on a timeline.
type Interval struct {
	Start float64
	End   float64
}

// Duration returns the interval's length in seconds, never negative.
func (i Interval) Duration() float64 {
	if i.End <= i.Start {
		return 0
	}
	return i.End - i.Start
}

// EditMarker is a user-authored cut window: the span it covers is removed
// from the content before mixing.
type EditMarker struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Subtract removes the marker windows from the base timeline and returns the
// residual keep intervals in order. Ties at interval boundaries favor
// exclusion: a marker that exactly touches a boundary still cuts the touching
// point, so an explicit user edit always wins over a keep.
func Subtract(base Interval, markers []EditMarker) []Interval {
	if base.Duration() == 0 {
		return nil
	}

	cuts := make([]Interval, 0, len(markers))
	for _, m := range markers {
		cut := Interval{Start: m.Start, End: m.End}
		if cut.Start < base.Start {
			cut.Start = base.Start
		}
		if cut.End > base.End {
			cut.End = base.End
		}
		if cut.End < cut.Start {
			continue
		}
		cuts = append(cuts, cut)
	}
	sort.Slice(cuts, func(a, b int) bool {
		if cuts[a].Start != cuts[b].Start {
			return cuts[a].Start < cuts[b].Start
		}
		return cuts[a].End < cuts[b].End
	})

	var residual []Interval
	cursor := base.Start
	for _, cut := range cuts {
		if cut.Start > cursor {
			residual = append(residual, Interval{Start: cursor, End: cut.Start})
		}
		if cut.End > cursor {
			cursor = cut.End
		}
	}
	if cursor < base.End {
		residual = append(residual, Interval{Start: cursor, End: base.End})
	}
	return residual
}

// ResidualDuration sums the lengths of the keep intervals.
func ResidualDuration(intervals []Interval) float64 {
	var total float64
	for _, iv := range intervals {
		total += iv.Duration()
	}
	return total
}

// MusicRule overlays a background music bed onto matching segments.
type MusicRule struct {
	MediaID         string   `json:"media_id"`
	ApplyToSegments []string `json:"apply_to_segments"`
	VolumeDB        float64  `json:"volume_db"`
	Loop            bool     `json:"loop"`
	FadeInSeconds   float64  `json:"fade_in_seconds"`
	FadeOutSeconds  float64  `json:"fade_out_seconds"`
}

// AppliesTo reports whether the rule targets the given segment type.
// Matching is case-insensitive exact string comparison. A rule with an empty
// target list matches no segment; it never defaults to the content segment.
func (r MusicRule) AppliesTo(segmentType string) bool {
	if len(r.ApplyToSegments) == 0 {
		return false
	}
	want := strings.TrimSpace(segmentType)
	for _, target := range r.ApplyToSegments {
		if strings.EqualFold(strings.TrimSpace(target), want) {
			return true
		}
	}
	return false
}

// MatchRules returns the rules targeting the given segment type, in the
// order they were configured.
func MatchRules(rules []MusicRule, segmentType string) []MusicRule {
	var matched []MusicRule
	for _, rule := range rules {
		if rule.AppliesTo(segmentType) {
			matched = append(matched, rule)
		}
	}
	return matched
}
