package timeline_test

import (
	"math"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/timeline"
)

func intervalsEqual(a, b []timeline.Interval) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i].Start-b[i].Start) > 1e-9 || math.Abs(a[i].End-b[i].End) > 1e-9 {
			return false
		}
	}
	return true
}

func TestSubtractMiddleCut(t *testing.T) {
	base := timeline.Interval{Start: 0, End: 100}
	residual := timeline.Subtract(base, []timeline.EditMarker{{Start: 30, End: 40}})

	want := []timeline.Interval{{Start: 0, End: 30}, {Start: 40, End: 100}}
	if !intervalsEqual(residual, want) {
		t.Fatalf("residual = %+v, want %+v", residual, want)
	}
}

func TestSubtractBoundaryTouchExcludes(t *testing.T) {
	// A marker ending exactly where the content starts, or starting exactly
	// where it ends, still removes the touching point: cut wins over keep.
	base := timeline.Interval{Start: 10, End: 50}

	residual := timeline.Subtract(base, []timeline.EditMarker{{Start: 0, End: 10}})
	if len(residual) != 1 || residual[0].Start != 10 {
		t.Fatalf("leading touch: residual = %+v", residual)
	}

	residual = timeline.Subtract(base, []timeline.EditMarker{{Start: 10, End: 10}})
	want := []timeline.Interval{{Start: 10, End: 50}}
	if !intervalsEqual(residual, want) {
		t.Fatalf("zero-width marker: residual = %+v, want %+v", residual, want)
	}

	// A marker covering the first sample must not leave it behind.
	residual = timeline.Subtract(base, []timeline.EditMarker{{Start: 10, End: 12}})
	want = []timeline.Interval{{Start: 12, End: 50}}
	if !intervalsEqual(residual, want) {
		t.Fatalf("boundary cut: residual = %+v, want %+v", residual, want)
	}
}

func TestSubtractOverlappingAndUnsortedMarkers(t *testing.T) {
	base := timeline.Interval{Start: 0, End: 60}
	markers := []timeline.EditMarker{
		{Start: 40, End: 50},
		{Start: 10, End: 25},
		{Start: 20, End: 30},
	}

	residual := timeline.Subtract(base, markers)
	want := []timeline.Interval{{Start: 0, End: 10}, {Start: 30, End: 40}, {Start: 50, End: 60}}
	if !intervalsEqual(residual, want) {
		t.Fatalf("residual = %+v, want %+v", residual, want)
	}
	if got := timeline.ResidualDuration(residual); math.Abs(got-30) > 1e-9 {
		t.Fatalf("residual duration = %v, want 30", got)
	}
}

func TestSubtractMarkerCoversEverything(t *testing.T) {
	base := timeline.Interval{Start: 0, End: 30}
	residual := timeline.Subtract(base, []timeline.EditMarker{{Start: -5, End: 100}})
	if len(residual) != 0 {
		t.Fatalf("expected empty residual, got %+v", residual)
	}
}

func TestSubtractClampsMarkersToBase(t *testing.T) {
	base := timeline.Interval{Start: 20, End: 80}
	residual := timeline.Subtract(base, []timeline.EditMarker{{Start: 0, End: 30}, {Start: 70, End: 200}})
	want := []timeline.Interval{{Start: 30, End: 70}}
	if !intervalsEqual(residual, want) {
		t.Fatalf("residual = %+v, want %+v", residual, want)
	}
}

func TestMusicRuleMatchesCaseInsensitive(t *testing.T) {
	rule := timeline.MusicRule{MediaID: "bed-1", ApplyToSegments: []string{"Intro", "OUTRO"}}

	if !rule.AppliesTo("intro") {
		t.Fatal("expected case-insensitive match for intro")
	}
	if !rule.AppliesTo("outro") {
		t.Fatal("expected case-insensitive match for outro")
	}
	if rule.AppliesTo("content") {
		t.Fatal("content is not in the target list")
	}
	if rule.AppliesTo("intr") {
		t.Fatal("matching is exact, not prefix")
	}
}

func TestMusicRuleEmptyTargetListMatchesNothing(t *testing.T) {
	rule := timeline.MusicRule{MediaID: "bed-2", ApplyToSegments: []string{}}

	for _, segment := range []string{"intro", "content", "outro", ""} {
		if rule.AppliesTo(segment) {
			t.Fatalf("empty target list must match no segment, matched %q", segment)
		}
	}
}

func TestMatchRulesPreservesOrder(t *testing.T) {
	rules := []timeline.MusicRule{
		{MediaID: "bed-1", ApplyToSegments: []string{"intro"}},
		{MediaID: "bed-2", ApplyToSegments: []string{"content"}},
		{MediaID: "bed-3", ApplyToSegments: []string{"intro", "content"}},
	}

	matched := timeline.MatchRules(rules, "intro")
	if len(matched) != 2 || matched[0].MediaID != "bed-1" || matched[1].MediaID != "bed-3" {
		t.Fatalf("unexpected matches: %+v", matched)
	}
}
