package daemon_test

import (
	"context"
	"testing"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/daemon"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/stage"
	"github.com/tgdscott/DoneCast-sub003/internal/testsupport"
	"github.com/tgdscott/DoneCast-sub003/internal/workflow"
)

type committingStage struct {
	store    *queue.Store
	policies queue.CommitPolicies
}

func (committingStage) Prepare(context.Context, *queue.Job) error { return nil }

func (s committingStage) Execute(ctx context.Context, job *queue.Job) error {
	result := queue.AssemblyResult{
		Locator:         "s3://donecast-media/final/" + job.EpisodeID + ".mp3",
		DurationSeconds: 600,
	}
	if err := s.store.CommitProcessed(ctx, job.ID, result, s.policies.Terminal); err != nil {
		return err
	}
	job.Status = queue.StatusProcessed
	return nil
}

func (committingStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("committing")
}

func newDaemon(t *testing.T) (*daemon.Daemon, *queue.Store, *config.Config) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 0
	store := testsupport.MustOpenStore(t, cfg)
	handler := committingStage{store: store, policies: queue.PoliciesFromConfig(cfg)}
	mgr := workflow.NewManager(cfg, store, handler, nil, logging.NewNop())

	d, err := daemon.New(cfg, store, mgr, handler, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
	})
	return d, store, cfg
}

func TestDaemonStartStop(t *testing.T) {
	d, _, _ := newDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if !status.Stage.Ready {
		t.Fatalf("expected stage to be ready: %+v", status.Stage)
	}
	if d.APIAddr() == "" {
		t.Fatal("expected control api to be listening")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonStartReadmitsInterruptedJobs(t *testing.T) {
	d, store, _ := newDaemon(t)

	// A crash mid-assembly leaves the job in processing with no executor.
	job := testsupport.NewJob(t, store, "ep-600", "tpl-1")
	job.Status = queue.StatusProcessing
	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		reloaded, err := store.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if reloaded.Status == queue.StatusProcessed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("interrupted job was never re-admitted and processed")
}

func TestDaemonSecondInstanceIsLockedOut(t *testing.T) {
	d, store, cfg := newDaemon(t)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	handler := committingStage{store: store, policies: queue.PoliciesFromConfig(cfg)}
	mgr := workflow.NewManager(cfg, store, handler, nil, logging.NewNop())

	// Same config, so the same lock path as the running daemon.
	second, err := daemon.New(cfg, store, mgr, handler, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be locked out")
	}
}
