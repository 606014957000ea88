package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
	"github.com/tgdscott/DoneCast-sub003/internal/stage"
	"github.com/tgdscott/DoneCast-sub003/internal/testsupport"
	"github.com/tgdscott/DoneCast-sub003/internal/workflow"
)

type scriptedHandler struct {
	store    *queue.Store
	policies queue.CommitPolicies
	executed chan int64

	mu         sync.Mutex
	prepareErr error
	executeErr error
}

func (h *scriptedHandler) setExecuteErr(err error) {
	h.mu.Lock()
	h.executeErr = err
	h.mu.Unlock()
}

func newScriptedHandler(store *queue.Store, cfg *config.Config) *scriptedHandler {
	return &scriptedHandler{
		store:    store,
		policies: queue.PoliciesFromConfig(cfg),
		executed: make(chan int64, 8),
	}
}

func (h *scriptedHandler) Prepare(_ context.Context, _ *queue.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prepareErr
}

func (h *scriptedHandler) Execute(ctx context.Context, job *queue.Job) error {
	defer func() { h.executed <- job.ID }()
	h.mu.Lock()
	executeErr := h.executeErr
	h.mu.Unlock()
	if executeErr != nil {
		return executeErr
	}
	result := queue.AssemblyResult{
		Locator:         "s3://donecast-media/final/" + job.EpisodeID + ".mp3",
		DurationSeconds: 1800,
	}
	if err := h.store.CommitProcessed(ctx, job.ID, result, h.policies.Terminal); err != nil {
		return err
	}
	job.Status = queue.StatusProcessed
	job.ResultLocator = result.Locator
	job.ResultDuration = result.DurationSeconds
	return nil
}

func (h *scriptedHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("scripted")
}

func waitForStatus(t *testing.T, store *queue.Store, jobID int64, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), jobID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d never reached status %s", jobID, want)
	return nil
}

func fastConfig(t *testing.T) *config.Config {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 0
	cfg.Workflow.ErrorRetryInterval = 0
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 60
	return cfg
}

func TestManagerProcessesPendingJob(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := newScriptedHandler(store, cfg)
	manager := workflow.NewManager(cfg, store, handler, nil, logging.NewNop())

	job := testsupport.NewJob(t, store, "ep-800", "tpl-1")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	done := waitForStatus(t, store, job.ID, queue.StatusProcessed)
	if done.ResultLocator == "" {
		t.Fatal("result locator not persisted")
	}

	select {
	case id := <-handler.executed:
		if id != job.ID {
			t.Fatalf("executed job %d, want %d", id, job.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never executed")
	}
}

func TestManagerRecordsFailureDurably(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := newScriptedHandler(store, cfg)
	handler.setExecuteErr(services.Wrap(services.ErrMissingInput, "assembly", "resolve inputs",
		"media med-9 referenced by the plan does not exist", nil))
	manager := workflow.NewManager(cfg, store, handler, nil, logging.NewNop())

	job := testsupport.NewJob(t, store, "ep-801", "tpl-1")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	failed := waitForStatus(t, store, job.ID, queue.StatusError)
	if failed.ErrorMessage == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestManagerRetryEdgeReentersPipeline(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := newScriptedHandler(store, cfg)
	handler.setExecuteErr(errors.New("first attempt fails"))
	manager := workflow.NewManager(cfg, store, handler, nil, logging.NewNop())

	job := testsupport.NewJob(t, store, "ep-802", "tpl-1")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	waitForStatus(t, store, job.ID, queue.StatusError)

	// Operator retry: clear the scripted failure and re-admit the job.
	handler.setExecuteErr(nil)
	if _, err := store.RetryErrored(context.Background(), job.ID); err != nil {
		t.Fatalf("RetryErrored: %v", err)
	}

	waitForStatus(t, store, job.ID, queue.StatusProcessed)
}

func TestManagerStartTwiceFails(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := newScriptedHandler(store, cfg)
	manager := workflow.NewManager(cfg, store, handler, nil, logging.NewNop())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Stop()

	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail while running")
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	cfg := fastConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := newScriptedHandler(store, cfg)
	manager := workflow.NewManager(cfg, store, handler, nil, logging.NewNop())

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	manager.Stop()
	manager.Stop()
	if manager.Running() {
		t.Fatal("manager still running after Stop")
	}
}
