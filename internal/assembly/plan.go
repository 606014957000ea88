// Package assembly implements the episode assembly orchestrator: it turns a
// job's plan, media references, and edit markers into a mixed, normalized,
// uploaded artifact and drives the job to its terminal status.
package assembly

import (
	"encoding/json"
	"strings"

	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
	"github.com/tgdscott/DoneCast-sub003/internal/timeline"
)

// Plan is the assembly recipe persisted on a job: the ordered segment
// placements from the template, the user's edit markers, and the template's
// background music rules.
type Plan struct {
	Segments    []PlanSegment         `json:"segments"`
	EditMarkers []timeline.EditMarker `json:"edit_markers,omitempty"`
	MusicRules  []timeline.MusicRule  `json:"music_rules,omitempty"`
}

// PlanSegment places one media reference in the program order.
type PlanSegment struct {
	MediaID     string `json:"media_id"`
	SegmentType string `json:"segment_type"`
}

// ParsePlan decodes and validates a job's plan document. Failures are
// validation errors: a malformed plan can never succeed on retry without a
// new plan being written.
func ParsePlan(raw string) (Plan, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Plan{}, services.Wrap(services.ErrValidation, "assembly", "parse plan",
			"job has no assembly plan", nil)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(trimmed), &plan); err != nil {
		return Plan{}, services.Wrap(services.ErrValidation, "assembly", "parse plan",
			"assembly plan is not valid JSON", err)
	}

	audible := 0
	for i, segment := range plan.Segments {
		if segment.MediaID == "" {
			return Plan{}, services.Wrap(services.ErrValidation, "assembly", "parse plan",
				"plan segment missing media id", nil)
		}
		if segment.SegmentType == "" {
			plan.Segments[i].SegmentType = string(queue.SegmentContent)
		}
		if !strings.EqualFold(plan.Segments[i].SegmentType, string(queue.SegmentCoverArt)) {
			audible++
		}
	}
	if audible == 0 {
		return Plan{}, services.Wrap(services.ErrValidation, "assembly", "parse plan",
			"plan has no audible segments", nil)
	}
	return plan, nil
}

// IsContent reports whether the segment carries the main program audio that
// edit markers apply to.
func (s PlanSegment) IsContent() bool {
	return strings.EqualFold(s.SegmentType, string(queue.SegmentContent))
}

// IsCoverArt reports whether the segment is the episode's cover image.
func (s PlanSegment) IsCoverArt() bool {
	return strings.EqualFold(s.SegmentType, string(queue.SegmentCoverArt))
}
