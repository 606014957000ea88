package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
)

func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()

	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
staging_dir = %q
log_dir = %q
media_cache_dir = %q
api_bind = ""
`,
		filepath.Join(base, "staging"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "cache"),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return path, cfg
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedStore(t *testing.T, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestQueueListEmpty(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := runCommand(t, "--config", path, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestQueueListShowsJobs(t *testing.T) {
	path, cfg := writeTestConfig(t)
	store := seedStore(t, cfg)
	if _, err := store.NewJob(context.Background(), "ep-1", "Pilot", "tpl-1", "{}"); err != nil {
		t.Fatalf("NewJob: %v", err)
	}

	out, err := runCommand(t, "--config", path, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "ep-1") || !strings.Contains(out, "pending") {
		t.Fatalf("job missing from output: %s", out)
	}
}

func TestQueueRetryReadmitsErroredJob(t *testing.T) {
	path, cfg := writeTestConfig(t)
	store := seedStore(t, cfg)

	job, err := store.NewJob(context.Background(), "ep-2", "Pilot", "tpl-1", "{}")
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	job.Status = queue.StatusError
	job.ErrorMessage = "mix failed"
	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	out, err := runCommand(t, "--config", path, "queue", "retry")
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	if !strings.Contains(out, "Re-admitted 1 job(s)") {
		t.Fatalf("unexpected output: %s", out)
	}

	reloaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", reloaded.Status)
	}
}

func TestQueueClearRemovesProcessedJobs(t *testing.T) {
	path, cfg := writeTestConfig(t)
	store := seedStore(t, cfg)

	job, err := store.NewJob(context.Background(), "ep-3", "Pilot", "tpl-1", "{}")
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	job.Status = queue.StatusProcessed
	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	out, err := runCommand(t, "--config", path, "queue", "clear")
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 processed job(s)") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestAssembleQueuesJob(t *testing.T) {
	path, cfg := writeTestConfig(t)

	planPath := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(planPath, []byte(`{"segments":[{"media_id":"med-1"}]}`), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	out, err := runCommand(t, "--config", path, "assemble",
		"--episode", "ep-4", "--title", "Pilot", "--plan", planPath)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !strings.Contains(out, "Queued assembly job") {
		t.Fatalf("unexpected output: %s", out)
	}

	store := seedStore(t, cfg)
	job, err := store.FindByEpisode(context.Background(), "ep-4")
	if err != nil {
		t.Fatalf("FindByEpisode: %v", err)
	}
	if job == nil || job.Status != queue.StatusPending {
		t.Fatalf("expected pending job for ep-4, got %+v", job)
	}
}

func TestAssembleRequiresEpisodeAndPlan(t *testing.T) {
	path, _ := writeTestConfig(t)

	if _, err := runCommand(t, "--config", path, "assemble"); err == nil {
		t.Fatal("expected error without --episode")
	}
}

func TestStatusFallsBackToStore(t *testing.T) {
	path, _ := writeTestConfig(t)

	out, err := runCommand(t, "--config", path, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Fatalf("expected daemon-not-running fallback: %s", out)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error without --overwrite")
	}
}
