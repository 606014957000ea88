package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tgdscott/DoneCast-sub003/internal/billing"
	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
	"github.com/tgdscott/DoneCast-sub003/internal/services/ffmpeg"
	"github.com/tgdscott/DoneCast-sub003/internal/stage"
	"github.com/tgdscott/DoneCast-sub003/internal/storage"
	"github.com/tgdscott/DoneCast-sub003/internal/timeline"
)

// Assembler is the orchestrator stage: it resolves inputs, applies edits and
// music rules, mixes the artifact, charges overage, and commits the terminal
// job status. It is the only component that writes terminal statuses.
type Assembler struct {
	cfg      *config.Config
	store    *queue.Store
	storage  *storage.Resolver
	mixer    ffmpeg.Mixer
	billing  *billing.Hook
	policies queue.CommitPolicies
	logger   *slog.Logger
}

// New constructs the assembly stage.
func New(
	cfg *config.Config,
	store *queue.Store,
	storageResolver *storage.Resolver,
	mixer ffmpeg.Mixer,
	billingHook *billing.Hook,
	logger *slog.Logger,
) *Assembler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Assembler{
		cfg:      cfg,
		store:    store,
		storage:  storageResolver,
		mixer:    mixer,
		billing:  billingHook,
		policies: queue.PoliciesFromConfig(cfg),
		logger:   logging.NewComponentLogger(logger, "assembly"),
	}
}

// Prepare validates the job's plan and working directories before the
// expensive work starts.
func (a *Assembler) Prepare(ctx context.Context, job *queue.Job) error {
	if _, err := ParsePlan(job.PlanJSON); err != nil {
		return err
	}
	if err := os.MkdirAll(a.cfg.Paths.StagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "assembly", "prepare", "create staging directory", err)
	}
	job.SetProgress("Assembling", "Resolving inputs", 0)
	return a.store.Update(ctx, job)
}

// Execute runs the full assembly for one job and commits its terminal
// status. Re-running on an already-processed job is a no-op so a duplicate
// dispatch can never redo work or re-bill.
func (a *Assembler) Execute(ctx context.Context, job *queue.Job) error {
	if job.Status == queue.StatusProcessed {
		a.logger.Info("job already processed, skipping",
			logging.Int64(logging.FieldJobID, job.ID),
		)
		return nil
	}
	ctx = services.WithJobID(ctx, job.ID)

	result, err := a.assemble(ctx, job)
	if err != nil {
		return err
	}

	// Billing runs before the terminal commit and must never fail the job:
	// a ledger outage is a billing-integrity gap, not an assembly failure.
	if a.billing != nil {
		if billErr := a.billing.ChargeOverage(ctx, job, result.DurationSeconds); billErr != nil {
			a.logger.Error("billing hook failed, job completes anyway",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(billErr),
			)
		}
	}

	if err := a.store.CommitProcessed(ctx, job.ID, result, a.policies.Terminal); err != nil {
		return a.degradeAfterTerminalFailure(ctx, job, err)
	}

	job.Status = queue.StatusProcessed
	job.ResultLocator = result.Locator
	job.ResultDuration = result.DurationSeconds
	job.CoverArtLocator = result.CoverArtLocator
	a.logger.Info("episode assembled",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEpisodeID, job.EpisodeID),
		logging.String("locator", result.Locator),
		logging.Float64("duration_seconds", result.DurationSeconds),
	)
	return nil
}

// assemble performs steps that may fail recoverably; it never writes a
// terminal status itself.
func (a *Assembler) assemble(ctx context.Context, job *queue.Job) (queue.AssemblyResult, error) {
	plan, err := ParsePlan(job.PlanJSON)
	if err != nil {
		return queue.AssemblyResult{}, err
	}

	refs, err := a.store.MediaForJob(ctx, job.ID)
	if err != nil {
		return queue.AssemblyResult{}, err
	}
	byMediaID := make(map[string]*queue.MediaReference, len(refs))
	for _, ref := range refs {
		byMediaID[ref.MediaID] = ref
	}

	var (
		segments   []ffmpeg.Segment
		coverArt   string
		segTypes   []string
		musicBeds  []ffmpeg.MusicBed
		bedsByPath = map[string]struct{}{}
	)

	a.progress(ctx, job, "Resolving inputs", 10)
	for _, planSegment := range plan.Segments {
		ref, err := a.lookupMedia(ctx, byMediaID, planSegment.MediaID)
		if err != nil {
			return queue.AssemblyResult{}, err
		}

		if planSegment.IsCoverArt() {
			coverArt = ref.CloudLocator
			continue
		}

		localPath, err := a.storage.ResolveToCache(ctx, ref)
		if err != nil {
			return queue.AssemblyResult{}, err
		}

		segment := ffmpeg.Segment{Path: localPath}
		if planSegment.IsContent() && len(plan.EditMarkers) > 0 {
			keep, err := a.applyEditMarkers(ctx, localPath, plan.EditMarkers)
			if err != nil {
				return queue.AssemblyResult{}, err
			}
			if len(keep) == 0 {
				return queue.AssemblyResult{}, services.Wrap(services.ErrValidation, "assembly", "edit markers",
					"edit markers remove the entire content segment", nil)
			}
			segment.Keep = keep
		}
		segments = append(segments, segment)
		segTypes = append(segTypes, planSegment.SegmentType)
	}
	if len(segments) == 0 {
		return queue.AssemblyResult{}, services.Wrap(services.ErrValidation, "assembly", "resolve inputs",
			"no audible segments resolved", nil)
	}

	a.progress(ctx, job, "Applying music rules", 35)
	for _, segType := range segTypes {
		for _, rule := range timeline.MatchRules(plan.MusicRules, segType) {
			bedRef, err := a.lookupMedia(ctx, byMediaID, rule.MediaID)
			if err != nil {
				return queue.AssemblyResult{}, err
			}
			bedPath, err := a.storage.ResolveToCache(ctx, bedRef)
			if err != nil {
				return queue.AssemblyResult{}, err
			}
			if _, dup := bedsByPath[bedPath]; dup {
				continue
			}
			bedsByPath[bedPath] = struct{}{}
			musicBeds = append(musicBeds, ffmpeg.MusicBed{
				Path:           bedPath,
				VolumeDB:       rule.VolumeDB,
				Loop:           rule.Loop,
				FadeInSeconds:  rule.FadeInSeconds,
				FadeOutSeconds: rule.FadeOutSeconds,
			})
		}
	}

	a.progress(ctx, job, "Mixing", 50)
	outputPath := filepath.Join(a.cfg.Paths.StagingDir, fmt.Sprintf("job-%d.mp3", job.ID))
	exportReq := ffmpeg.ExportRequest{
		Segments:   segments,
		Music:      musicBeds,
		OutputPath: outputPath,
	}
	if err := a.mixer.Export(ctx, exportReq, func(update ffmpeg.ProgressUpdate) {
		if update.OutTimeSeconds > 0 {
			job.SetProgress("Mixing", fmt.Sprintf("Encoded %.0fs", update.OutTimeSeconds), 60)
		}
	}); err != nil {
		return queue.AssemblyResult{}, services.Wrap(services.ErrTransient, "assembly", "mix", "ffmpeg export failed", err)
	}

	duration, err := a.mixer.DurationSeconds(ctx, outputPath)
	if err != nil {
		return queue.AssemblyResult{}, services.Wrap(services.ErrTransient, "assembly", "probe", "duration probe failed", err)
	}

	a.progress(ctx, job, "Uploading", 85)
	artifact, err := os.ReadFile(outputPath)
	if err != nil {
		return queue.AssemblyResult{}, services.Wrap(services.ErrTransient, "assembly", "upload", "read staged artifact", err)
	}
	key := fmt.Sprintf("final/%s.mp3", sanitizeKey(job.EpisodeID))
	locator, err := a.storage.Upload(ctx, key, artifact, "audio/mpeg")
	if err != nil {
		return queue.AssemblyResult{}, err
	}

	return queue.AssemblyResult{
		Locator:         locator,
		DurationSeconds: duration,
		CoverArtLocator: coverArt,
	}, nil
}

// HealthCheck verifies the stage's external requirements.
func (a *Assembler) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(a.cfg.Storage.Primary.Endpoint) == "" {
		return stage.Unhealthy("assembly", "primary storage endpoint not configured")
	}
	if err := os.MkdirAll(a.cfg.Paths.StagingDir, 0o755); err != nil {
		return stage.Unhealthy("assembly", fmt.Sprintf("staging directory unavailable: %v", err))
	}
	return stage.Healthy("assembly")
}

func (a *Assembler) lookupMedia(ctx context.Context, byMediaID map[string]*queue.MediaReference, mediaID string) (*queue.MediaReference, error) {
	if ref, ok := byMediaID[mediaID]; ok {
		return ref, nil
	}
	ref, err := a.store.MediaByMediaID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, services.WrapHint(
			services.ErrMissingInput,
			"assembly",
			"resolve inputs",
			fmt.Sprintf("media %s referenced by the plan does not exist", mediaID),
			"fix the episode's media and retry the job",
			nil,
		)
	}
	return ref, nil
}

// applyEditMarkers turns the user's cut windows into the keep intervals for
// one content file. Marker application is pure: probe the duration, subtract
// the cut windows, done.
func (a *Assembler) applyEditMarkers(ctx context.Context, path string, markers []timeline.EditMarker) ([]timeline.Interval, error) {
	duration, err := a.mixer.DurationSeconds(ctx, path)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "assembly", "probe", "duration probe for edit markers", err)
	}
	base := timeline.Interval{Start: 0, End: duration}
	return timeline.Subtract(base, markers), nil
}

// progress records a coarse progress update; failures here are logged, not
// fatal, since progress is advisory.
func (a *Assembler) progress(ctx context.Context, job *queue.Job, message string, percent float64) {
	job.SetProgress("Assembling", message, percent)
	if err := a.store.Update(ctx, job); err != nil {
		a.logger.Warn("progress update failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
	}
}

// degradeAfterTerminalFailure handles an exhausted terminal commit budget:
// one last best-effort error write so the job is visibly stuck instead of
// silently lost in processing.
func (a *Assembler) degradeAfterTerminalFailure(ctx context.Context, job *queue.Job, commitErr error) error {
	a.logger.Error("terminal commit exhausted, degrading to error status",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Alert("terminal-commit-failure"),
		logging.Error(commitErr),
	)
	reason := fmt.Sprintf("terminal commit failed after retries: %v", commitErr)
	if writeErr := a.store.BestEffortErrored(ctx, job.ID, reason); writeErr != nil {
		a.logger.Error("best-effort error write also failed",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(writeErr),
		)
	}
	return commitErr
}

func sanitizeKey(value string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, strings.TrimSpace(value))
	if cleaned == "" {
		return "episode"
	}
	return cleaned
}
