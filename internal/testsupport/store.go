package testsupport

import (
	"context"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
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

// NewJob creates a pending assembly job for tests using the provided store.
func NewJob(t testing.TB, store *queue.Store, episodeID, templateID string) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), episodeID, "Episode "+episodeID, templateID, "")
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}

// AddMedia attaches a media reference to a job for tests.
func AddMedia(t testing.TB, store *queue.Store, ref *queue.MediaReference) *queue.MediaReference {
	t.Helper()

	saved, err := store.AddMediaReference(context.Background(), ref)
	if err != nil {
		t.Fatalf("store.AddMediaReference: %v", err)
	}
	return saved
}
