// Package dispatch admits assembly jobs to an execution target: the
// co-located workflow manager, a remote worker over authenticated HTTP, or
// the durable queue for whichever executor polls it next.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
)

// Target selects where an assembly job executes.
type Target string

const (
	TargetInProcess Target = "inprocess"
	TargetWorker    Target = "worker"
	TargetQueue     Target = "queue"
)

// ParseTarget converts a configuration string into a known Target.
func ParseTarget(value string) (Target, bool) {
	switch Target(strings.ToLower(strings.TrimSpace(value))) {
	case TargetInProcess:
		return TargetInProcess, true
	case TargetWorker:
		return TargetWorker, true
	case TargetQueue:
		return TargetQueue, true
	default:
		return "", false
	}
}

// Payload is the task shape delivered to every execution target. Remote
// workers and the durable queue both consume exactly this document.
type Payload struct {
	JobID        int64  `json:"job_id"`
	EpisodeID    string `json:"episode_id"`
	EpisodeTitle string `json:"episode_title"`
	TemplateID   string `json:"template_id"`
	PlanJSON     string `json:"plan_json"`
}

// Dispatcher admits jobs to the configured execution target.
type Dispatcher struct {
	cfg    *config.Config
	store  *queue.Store
	client *http.Client
	logger *slog.Logger
}

// New constructs a dispatcher.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.Dispatch.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: timeout},
		logger: logging.NewComponentLogger(logger, "dispatch"),
	}
}

// Enqueue creates a pending job for an episode and admits it to the
// configured target. The pending row itself is the durable task record; a
// failed remote delivery leaves the job pending for the next dispatch.
func (d *Dispatcher) Enqueue(ctx context.Context, episodeID, episodeTitle, templateID, planJSON string) (*queue.Job, error) {
	job, err := d.store.NewJob(ctx, episodeID, episodeTitle, templateID, planJSON)
	if err != nil {
		return nil, err
	}
	if err := d.Dispatch(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// Dispatch admits one existing job to the configured execution target.
func (d *Dispatcher) Dispatch(ctx context.Context, job *queue.Job) error {
	target, ok := ParseTarget(d.cfg.Dispatch.Mode)
	if !ok {
		return services.Wrap(services.ErrConfiguration, "dispatch", "target",
			fmt.Sprintf("unknown dispatch mode %q", d.cfg.Dispatch.Mode), nil)
	}

	switch target {
	case TargetInProcess, TargetQueue:
		// The pending row is the admission: the co-located manager (or any
		// polling executor) picks it up in first-dispatched order.
		d.logger.Debug("job admitted to durable queue",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("target", string(target)),
		)
		return nil
	case TargetWorker:
		return d.dispatchToWorker(ctx, job)
	default:
		return services.Wrap(services.ErrConfiguration, "dispatch", "target",
			fmt.Sprintf("unhandled dispatch target %q", target), nil)
	}
}

func (d *Dispatcher) dispatchToWorker(ctx context.Context, job *queue.Job) error {
	payload, err := json.Marshal(Payload{
		JobID:        job.ID,
		EpisodeID:    job.EpisodeID,
		EpisodeTitle: job.EpisodeTitle,
		TemplateID:   job.TemplateID,
		PlanJSON:     job.PlanJSON,
	})
	if err != nil {
		return fmt.Errorf("encode dispatch payload: %w", err)
	}

	endpoint := strings.TrimRight(d.cfg.Dispatch.WorkerURL, "/") + "/api/assemble"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.Dispatch.SharedSecret)

	resp, err := d.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "dispatch", "worker",
			"worker unreachable, job stays pending", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return services.Wrap(services.ErrTransient, "dispatch", "worker",
			fmt.Sprintf("worker rejected dispatch with status %d", resp.StatusCode), nil)
	}

	d.logger.Info("job dispatched to worker",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("worker_url", d.cfg.Dispatch.WorkerURL),
	)
	return nil
}
