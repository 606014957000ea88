package ffmpeg

import (
	"context"
	"strings"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/timeline"
)

type recordingExecutor struct {
	binary string
	args   []string
	stdout []string
	err    error
}

func (r *recordingExecutor) Run(_ context.Context, binary string, args []string, onStdout func(string)) error {
	r.binary = binary
	r.args = args
	for _, line := range r.stdout {
		if onStdout != nil {
			onStdout(line)
		}
	}
	return r.err
}

func TestDurationSecondsParsesProbeOutput(t *testing.T) {
	executor := &recordingExecutor{stdout: []string{"1845.204"}}
	client, err := New("ffmpeg", "ffprobe", 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	duration, err := client.DurationSeconds(context.Background(), "/tmp/ep.mp3")
	if err != nil {
		t.Fatalf("DurationSeconds: %v", err)
	}
	if duration != 1845.204 {
		t.Fatalf("duration = %v", duration)
	}
	if executor.binary != "ffprobe" {
		t.Fatalf("expected ffprobe invocation, got %s", executor.binary)
	}
}

func TestDurationSecondsRejectsGarbage(t *testing.T) {
	executor := &recordingExecutor{stdout: []string{"N/A"}}
	client, err := New("ffmpeg", "ffprobe", 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.DurationSeconds(context.Background(), "/tmp/ep.mp3"); err == nil {
		t.Fatal("expected parse error for non-numeric duration")
	}
}

func TestExportBuildsTrimConcatGraph(t *testing.T) {
	executor := &recordingExecutor{}
	client, err := New("ffmpeg", "ffprobe", 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := ExportRequest{
		Segments: []Segment{
			{Path: "/in/intro.mp3"},
			{Path: "/in/content.mp3", Keep: []timeline.Interval{{Start: 0, End: 30}, {Start: 40, End: 100}}},
			{Path: "/in/outro.mp3"},
		},
		Music: []MusicBed{
			{Path: "/in/bed.mp3", VolumeDB: -18, Loop: true, FadeOutSeconds: 2},
		},
		OutputPath: t.TempDir() + "/out/ep.mp3",
	}
	if err := client.Export(context.Background(), req, nil); err != nil {
		t.Fatalf("Export: %v", err)
	}

	joined := strings.Join(executor.args, " ")
	if !strings.Contains(joined, "atrim=start=0:end=30") {
		t.Fatalf("missing first keep interval trim: %s", joined)
	}
	if !strings.Contains(joined, "atrim=start=40:end=100") {
		t.Fatalf("missing second keep interval trim: %s", joined)
	}
	if !strings.Contains(joined, "loudnorm=") {
		t.Fatalf("missing loudness normalization: %s", joined)
	}
	if !strings.Contains(joined, "amix=inputs=2") {
		t.Fatalf("missing music overlay mix: %s", joined)
	}
	if !strings.Contains(joined, "-stream_loop -1") {
		t.Fatalf("looping bed must use stream_loop: %s", joined)
	}
	if !strings.Contains(joined, "volume=-18dB") {
		t.Fatalf("missing bed volume: %s", joined)
	}
}

func TestExportWithoutSegmentsFails(t *testing.T) {
	client, err := New("ffmpeg", "ffprobe", 0, WithExecutor(&recordingExecutor{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Export(context.Background(), ExportRequest{OutputPath: "/tmp/out.mp3"}, nil); err == nil {
		t.Fatal("expected error for empty segment list")
	}
}

func TestExportReportsProgress(t *testing.T) {
	executor := &recordingExecutor{stdout: []string{"out_time_us=1500000", "progress=end"}}
	client, err := New("ffmpeg", "ffprobe", 0, WithExecutor(executor))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var updates []ProgressUpdate
	req := ExportRequest{
		Segments:   []Segment{{Path: "/in/content.mp3"}},
		OutputPath: t.TempDir() + "/ep.mp3",
	}
	if err := client.Export(context.Background(), req, func(update ProgressUpdate) {
		updates = append(updates, update)
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(updates))
	}
	if updates[0].OutTimeSeconds != 1.5 {
		t.Fatalf("out time = %v, want 1.5", updates[0].OutTimeSeconds)
	}
	if updates[1].Message != "end" {
		t.Fatalf("final message = %q", updates[1].Message)
	}
}
