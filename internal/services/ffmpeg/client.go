// Package ffmpeg wraps the ffmpeg and ffprobe CLI tools for mixing,
// loudness normalization, and duration probing.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/timeline"
)

// ProgressUpdate captures ffmpeg progress output during an export.
type ProgressUpdate struct {
	OutTimeSeconds float64
	Message        string
}

// Mixer defines the behaviour required by the assembly handler.
type Mixer interface {
	Export(ctx context.Context, req ExportRequest, progress func(ProgressUpdate)) error
	DurationSeconds(ctx context.Context, path string) (float64, error)
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Segment is one ordered piece of the program timeline. An empty Keep list
// means the whole file plays; otherwise only the listed intervals survive.
type Segment struct {
	Path string
	Keep []timeline.Interval
}

// MusicBed is a background track mixed under the program.
type MusicBed struct {
	Path           string
	VolumeDB       float64
	Loop           bool
	FadeInSeconds  float64
	FadeOutSeconds float64
}

// ExportRequest describes one complete mix: ordered segments, music beds,
// and the output path. Loudness normalization always runs on the final mix.
type ExportRequest struct {
	Segments   []Segment
	Music      []MusicBed
	OutputPath string
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(executor Executor) Option {
	return func(c *Client) {
		if executor != nil {
			c.exec = executor
		}
	}
}

// Client wraps ffmpeg CLI interactions.
type Client struct {
	ffmpegBinary  string
	ffprobeBinary string
	exportTimeout time.Duration
	exec          Executor
}

// New constructs an ffmpeg client.
func New(ffmpegBinary, ffprobeBinary string, exportTimeoutSeconds int, opts ...Option) (*Client, error) {
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	ffprobeBinary = strings.TrimSpace(ffprobeBinary)
	if ffmpegBinary == "" || ffprobeBinary == "" {
		return nil, errors.New("ffmpeg and ffprobe binaries required")
	}
	client := &Client{
		ffmpegBinary:  ffmpegBinary,
		ffprobeBinary: ffprobeBinary,
		exportTimeout: time.Duration(exportTimeoutSeconds) * time.Second,
		exec:          commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Export runs the full mix: trim and concatenate segments, overlay music
// beds, normalize loudness, and encode the artifact at req.OutputPath.
func (c *Client) Export(ctx context.Context, req ExportRequest, progress func(ProgressUpdate)) error {
	if len(req.Segments) == 0 {
		return errors.New("export requires at least one segment")
	}
	if req.OutputPath == "" {
		return errors.New("export requires an output path")
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	exportCtx := ctx
	if c.exportTimeout > 0 {
		var cancel context.CancelFunc
		exportCtx, cancel = context.WithTimeout(ctx, c.exportTimeout)
		defer cancel()
	}

	args := buildExportArgs(req, progress != nil)
	onStdout := func(line string) {
		if progress == nil {
			return
		}
		if update, ok := parseProgressLine(line); ok {
			progress(update)
		}
	}
	if err := c.exec.Run(exportCtx, c.ffmpegBinary, args, onStdout); err != nil {
		return fmt.Errorf("ffmpeg export: %w", err)
	}
	return nil
}

// DurationSeconds probes the container duration of an audio file.
func (c *Client) DurationSeconds(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	var output strings.Builder
	if err := c.exec.Run(ctx, c.ffprobeBinary, args, func(line string) {
		output.WriteString(line)
		output.WriteString("\n")
	}); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	raw := strings.TrimSpace(output.String())
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", raw, err)
	}
	return duration, nil
}

// buildExportArgs assembles the ffmpeg invocation: one input per segment and
// music bed, a filtergraph that trims, concatenates, overlays, and
// normalizes, and an mp3 encode of the mapped result.
func buildExportArgs(req ExportRequest, withProgress bool) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if withProgress {
		args = append(args, "-nostats", "-progress", "pipe:1")
	}

	for _, segment := range req.Segments {
		args = append(args, "-i", segment.Path)
	}
	for _, bed := range req.Music {
		if bed.Loop {
			args = append(args, "-stream_loop", "-1")
		}
		args = append(args, "-i", bed.Path)
	}

	args = append(args, "-filter_complex", buildFilterGraph(req))
	args = append(args,
		"-map", "[out]",
		"-c:a", "libmp3lame",
		"-q:a", "2",
		req.OutputPath,
	)
	return args
}

func buildFilterGraph(req ExportRequest) string {
	var filters []string
	var programParts []string

	for i, segment := range req.Segments {
		if len(segment.Keep) == 0 {
			label := fmt.Sprintf("seg%d", i)
			filters = append(filters, fmt.Sprintf("[%d:a]anull[%s]", i, label))
			programParts = append(programParts, "["+label+"]")
			continue
		}
		var keepLabels []string
		for k, interval := range segment.Keep {
			label := fmt.Sprintf("seg%dk%d", i, k)
			filters = append(filters, fmt.Sprintf(
				"[%d:a]atrim=start=%s:end=%s,asetpts=N/SR/TB[%s]",
				i, formatSeconds(interval.Start), formatSeconds(interval.End), label,
			))
			keepLabels = append(keepLabels, "["+label+"]")
		}
		if len(keepLabels) == 1 {
			programParts = append(programParts, keepLabels[0])
			continue
		}
		label := fmt.Sprintf("seg%d", i)
		filters = append(filters, fmt.Sprintf(
			"%sconcat=n=%d:v=0:a=1[%s]",
			strings.Join(keepLabels, ""), len(keepLabels), label,
		))
		programParts = append(programParts, "["+label+"]")
	}

	if len(programParts) == 1 {
		filters = append(filters, fmt.Sprintf("%sanull[program]", programParts[0]))
	} else {
		filters = append(filters, fmt.Sprintf(
			"%sconcat=n=%d:v=0:a=1[program]",
			strings.Join(programParts, ""), len(programParts),
		))
	}

	mixInputs := []string{"[program]"}
	for j, bed := range req.Music {
		inputIndex := len(req.Segments) + j
		label := fmt.Sprintf("bed%d", j)
		chain := []string{fmt.Sprintf("volume=%sdB", formatSeconds(bed.VolumeDB))}
		if bed.FadeInSeconds > 0 {
			chain = append(chain, fmt.Sprintf("afade=t=in:d=%s", formatSeconds(bed.FadeInSeconds)))
		}
		if bed.FadeOutSeconds > 0 {
			chain = append(chain, fmt.Sprintf("afade=t=out:d=%s", formatSeconds(bed.FadeOutSeconds)))
		}
		filters = append(filters, fmt.Sprintf("[%d:a]%s[%s]", inputIndex, strings.Join(chain, ","), label))
		mixInputs = append(mixInputs, "["+label+"]")
	}

	if len(mixInputs) > 1 {
		filters = append(filters, fmt.Sprintf(
			"%samix=inputs=%d:duration=first:normalize=0[mixed]",
			strings.Join(mixInputs, ""), len(mixInputs),
		))
		filters = append(filters, "[mixed]loudnorm=I=-16:TP=-1.5:LRA=11[out]")
	} else {
		filters = append(filters, "[program]loudnorm=I=-16:TP=-1.5:LRA=11[out]")
	}

	return strings.Join(filters, ";")
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// parseProgressLine parses ffmpeg -progress key=value output.
func parseProgressLine(line string) (ProgressUpdate, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return ProgressUpdate{}, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		micros, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return ProgressUpdate{}, false
		}
		return ProgressUpdate{OutTimeSeconds: micros / 1e6}, true
	case "progress":
		return ProgressUpdate{Message: value}, true
	default:
		return ProgressUpdate{}, false
	}
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onStdout != nil {
				onStdout(scanner.Text())
			}
		}
		_, _ = io.Copy(io.Discard, stdout)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%w: %s", err, lastLines(detail, 5))
		}
		return err
	}
	return nil
}

func lastLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
