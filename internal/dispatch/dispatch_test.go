package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/dispatch"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
	"github.com/tgdscott/DoneCast-sub003/internal/testsupport"
)

func TestParseTarget(t *testing.T) {
	if target, ok := dispatch.ParseTarget(" Worker "); !ok || target != dispatch.TargetWorker {
		t.Fatalf("got %q ok=%v", target, ok)
	}
	if _, ok := dispatch.ParseTarget("lambda"); ok {
		t.Fatal("unknown target must not parse")
	}
}

func TestEnqueueInProcessLeavesJobPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := dispatch.New(cfg, store, logging.NewNop())

	job, err := dispatcher.Enqueue(context.Background(), "ep-900", "Pilot", "tpl-1", `{"segments":[]}`)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reloaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", reloaded.Status)
	}
}

func TestDispatchWorkerDeliversAuthenticatedPayload(t *testing.T) {
	var gotAuth string
	var gotPayload dispatch.Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/assemble" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithDispatchWorker(server.URL, "shared-secret"))
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := dispatch.New(cfg, store, logging.NewNop())

	job := testsupport.NewJob(t, store, "ep-901", "tpl-1")
	if err := dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if gotAuth != "Bearer shared-secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotPayload.JobID != job.ID || gotPayload.EpisodeID != "ep-901" {
		t.Fatalf("unexpected payload %+v", gotPayload)
	}
}

func TestDispatchWorkerRejectionKeepsJobPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithDispatchWorker(server.URL, "shared-secret"))
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := dispatch.New(cfg, store, logging.NewNop())

	job := testsupport.NewJob(t, store, "ep-902", "tpl-1")
	err := dispatcher.Dispatch(context.Background(), job)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	reloaded, getErr := store.GetByID(context.Background(), job.ID)
	if getErr != nil {
		t.Fatalf("GetByID: %v", getErr)
	}
	if reloaded.Status != queue.StatusPending {
		t.Fatalf("failed dispatch must leave the job pending, got %s", reloaded.Status)
	}
}

func TestDispatchUnknownModeIsConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Dispatch.Mode = "carrier-pigeon"
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := dispatch.New(cfg, store, logging.NewNop())

	job := testsupport.NewJob(t, store, "ep-903", "tpl-1")
	err := dispatcher.Dispatch(context.Background(), job)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
