package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an assembly job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusProcessed,
	StatusError,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further pipeline-driven
// transition. Error is terminal for the orchestrator; only an explicit
// operator retry re-enters the pipeline.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusError
}

// SegmentType tags a media reference with its timeline role.
type SegmentType string

const (
	SegmentIntro    SegmentType = "intro"
	SegmentContent  SegmentType = "content"
	SegmentOutro    SegmentType = "outro"
	SegmentMusic    SegmentType = "music"
	SegmentCoverArt SegmentType = "cover_art"
)

// Job is one request to assemble a finished episode, persisted in SQLite.
// Jobs are never deleted by the pipeline; reprocessing re-enters the queue
// from the error state.
type Job struct {
	ID              int64
	EpisodeID       string
	EpisodeTitle    string
	TemplateID      string
	Status          Status
	PlanJSON        string
	ErrorMessage    string
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string

	// Assembly result, populated only when Status is processed.
	ResultLocator   string
	ResultDuration  float64
	CoverArtLocator string

	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// MediaReference points at an audio/image blob that may live in any supported
// backend. At least one of CloudLocator and ExternalID must resolve before
// assembly proceeds; LocalPath is an ephemeral cache hint, never
// authoritative across environments.
type MediaReference struct {
	ID           int64
	JobID        int64
	MediaID      string
	Filename     string
	CloudLocator string
	ExternalID   string
	LocalPath    string
	SegmentType  SegmentType
	CreatedAt    time.Time
}

// TranscriptRecord holds word-level timing data for a media reference, either
// inline or via an archive locator. The media link is 1:1 and durable.
type TranscriptRecord struct {
	ID             int64
	MediaID        string
	WordsJSON      string
	ArchiveLocator string
	CreatedAt      time.Time
}

// HasInlineWords reports whether the record carries word data directly.
func (t *TranscriptRecord) HasInlineWords() bool {
	return t != nil && strings.TrimSpace(t.WordsJSON) != ""
}

// BillingEvent is an idempotent ledger entry keyed by a deterministic
// correlation id derived from (job id, charge kind).
type BillingEvent struct {
	ID            int64
	CorrelationID string
	JobID         int64
	ChargeKind    string
	Quantity      float64
	CreatedAt     time.Time
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Processed  int
	Errored    int
}

// IsProcessing returns true when the job reflects an in-flight assembly.
func (j Job) IsProcessing() bool {
	return j.Status == StatusProcessing
}

// SetProgress updates the progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as errored with the given failure reason.
func (j *Job) SetFailed(message string) {
	j.Status = StatusError
	j.ErrorMessage = message
	j.ProgressPercent = 0
	j.ProgressMessage = message
	j.ProgressStage = "Failed"
	j.LastHeartbeat = nil
}
