package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/dispatch"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/notifications"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/stage"
	"github.com/tgdscott/DoneCast-sub003/internal/transcripts"
	"github.com/tgdscott/DoneCast-sub003/internal/workflow"
)

// Daemon coordinates the background assembly service and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *queue.Store
	workflow    *workflow.Manager
	handler     stage.Handler
	transcripts *transcripts.Resolver
	api         *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// QueueCounts aggregates job totals per status for diagnostic output.
type QueueCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Errored    int `json:"errored"`
}

// WorkflowStatus summarizes the manager's runtime state.
type WorkflowStatus struct {
	Running       bool   `json:"running"`
	LastError     string `json:"last_error,omitempty"`
	LastJobID     int64  `json:"last_job_id,omitempty"`
	LastJobStatus string `json:"last_job_status,omitempty"`
}

// StageHealth reports the assembly stage's readiness.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool           `json:"running"`
	Queue        QueueCounts    `json:"queue"`
	Stage        StageHealth    `json:"stage"`
	Workflow     WorkflowStatus `json:"workflow"`
	QueueDBPath  string         `json:"queue_db_path"`
	LockFilePath string         `json:"lock_file_path"`
}

// New constructs a daemon with initialized dependencies. The transcript
// resolver is optional; without it the transcript lookup endpoint reports
// unavailable.
func New(cfg *config.Config, store *queue.Store, wf *workflow.Manager, handler stage.Handler, transcriptResolver *transcripts.Resolver, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil || handler == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and stage handler")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "donecastd.lock")
	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       store,
		workflow:    wf,
		handler:     handler,
		transcripts: transcriptResolver,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, re-admits jobs orphaned by a previous
// crash, and launches the workflow manager and control API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another donecast daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	reset, err := d.store.ResetStuckProcessing(runCtx)
	if err != nil {
		d.logger.Warn("failed to reset stuck processing jobs", logging.Error(err))
	} else if reset > 0 {
		d.logger.Info("re-admitted jobs from interrupted run", logging.Int64("count", reset))
	}

	if err := d.workflow.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("donecast daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("donecast daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the control API listen address, or empty when disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}

	if summary, err := d.store.Health(ctx); err != nil {
		d.logger.Warn("queue health query failed", logging.Error(err))
	} else {
		status.Queue = QueueCounts{
			Total:      summary.Total,
			Pending:    summary.Pending,
			Processing: summary.Processing,
			Processed:  summary.Processed,
			Errored:    summary.Errored,
		}
	}

	health := d.handler.HealthCheck(ctx)
	status.Stage = StageHealth{Name: health.Name, Ready: health.Ready, Detail: health.Detail}

	status.Workflow.Running = d.workflow.Running()
	if err := d.workflow.LastError(); err != nil {
		status.Workflow.LastError = err.Error()
	}
	if job := d.workflow.LastJob(); job != nil {
		status.Workflow.LastJobID = job.ID
		status.Workflow.LastJobStatus = string(job.Status)
	}
	return status
}

// ListQueue returns jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	return d.store.List(ctx, statuses...)
}

// RetryJobs re-admits errored jobs (optionally a subset) to the queue.
func (d *Daemon) RetryJobs(ctx context.Context, ids ...int64) (int64, error) {
	return d.store.RetryErrored(ctx, ids...)
}

// ClearProcessed removes processed jobs from the queue.
func (d *Daemon) ClearProcessed(ctx context.Context) (int64, error) {
	return d.store.ClearProcessed(ctx)
}

// AdmitRemote records a dispatched assembly task as a pending job. Dispatch
// retries deliver the same episode again, so an existing non-terminal job is
// reused instead of duplicated.
func (d *Daemon) AdmitRemote(ctx context.Context, payload dispatch.Payload) (*queue.Job, error) {
	if strings.TrimSpace(payload.EpisodeID) == "" {
		return nil, errors.New("episode_id is required")
	}
	existing, err := d.store.FindByEpisode(ctx, payload.EpisodeID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return existing, nil
	}
	job, err := d.store.NewJob(ctx, payload.EpisodeID, payload.EpisodeTitle, payload.TemplateID, payload.PlanJSON)
	if err != nil {
		return nil, err
	}
	d.logger.Info("remote assembly task admitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("episode_id", job.EpisodeID),
	)
	return job, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
