package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/testsupport"
)

func TestMediaByFilenameSuffixMatchesBasename(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-300", "tpl-1")

	testsupport.AddMedia(t, store, &queue.MediaReference{
		JobID:        job.ID,
		MediaID:      "med-1",
		Filename:     "uploads/show-42/interview.mp3",
		CloudLocator: "s3://donecast-media/uploads/show-42/interview.mp3",
		SegmentType:  queue.SegmentContent,
	})

	ref, err := store.MediaByFilenameSuffix(context.Background(), "interview.mp3")
	if err != nil {
		t.Fatalf("MediaByFilenameSuffix: %v", err)
	}
	if ref == nil || ref.MediaID != "med-1" {
		t.Fatalf("expected med-1, got %+v", ref)
	}

	// The suffix match anchors on a path separator; a longer filename that
	// merely ends with the same characters must not match.
	ref, err = store.MediaByFilenameSuffix(context.Background(), "terview.mp3")
	if err != nil {
		t.Fatalf("MediaByFilenameSuffix: %v", err)
	}
	if ref != nil {
		t.Fatalf("partial basename must not match, got %+v", ref)
	}
}

func TestMediaByFilenameReturnsNewest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-301", "tpl-1")

	testsupport.AddMedia(t, store, &queue.MediaReference{
		JobID: job.ID, MediaID: "med-old", Filename: "intro.mp3",
	})
	testsupport.AddMedia(t, store, &queue.MediaReference{
		JobID: job.ID, MediaID: "med-new", Filename: "intro.mp3",
	})

	ref, err := store.MediaByFilename(context.Background(), "intro.mp3")
	if err != nil {
		t.Fatalf("MediaByFilename: %v", err)
	}
	if ref == nil || ref.MediaID != "med-new" {
		t.Fatalf("expected newest reference, got %+v", ref)
	}
}

func TestLocalPathsForActiveJobsSkipsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	active := testsupport.NewJob(t, store, "ep-302", "tpl-1")
	done := testsupport.NewJob(t, store, "ep-303", "tpl-1")
	done.Status = queue.StatusProcessed
	if err := store.Update(context.Background(), done); err != nil {
		t.Fatalf("Update: %v", err)
	}

	activeRef := testsupport.AddMedia(t, store, &queue.MediaReference{
		JobID: active.ID, MediaID: "med-a", Filename: "a.mp3",
	})
	doneRef := testsupport.AddMedia(t, store, &queue.MediaReference{
		JobID: done.ID, MediaID: "med-b", Filename: "b.mp3",
	})
	if err := store.SetMediaLocalPath(context.Background(), activeRef.ID, "/cache/a.mp3"); err != nil {
		t.Fatalf("SetMediaLocalPath: %v", err)
	}
	if err := store.SetMediaLocalPath(context.Background(), doneRef.ID, "/cache/b.mp3"); err != nil {
		t.Fatalf("SetMediaLocalPath: %v", err)
	}

	paths, err := store.LocalPathsForActiveJobs(context.Background())
	if err != nil {
		t.Fatalf("LocalPathsForActiveJobs: %v", err)
	}
	if _, ok := paths["/cache/a.mp3"]; !ok {
		t.Fatal("active job path missing from protection set")
	}
	if _, ok := paths["/cache/b.mp3"]; ok {
		t.Fatal("processed job path must not be protected")
	}
}

func TestSaveTranscriptIsWriteOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	record := &queue.TranscriptRecord{
		MediaID:   "med-9",
		WordsJSON: `[{"word":"hello","start":0.0,"end":0.4}]`,
	}
	saved, err := store.SaveTranscript(context.Background(), record)
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if saved == nil || saved.MediaID != "med-9" {
		t.Fatalf("unexpected saved record: %+v", saved)
	}

	// Identical data again is a no-op.
	if _, err := store.SaveTranscript(context.Background(), record); err != nil {
		t.Fatalf("idempotent save failed: %v", err)
	}

	// Different data for the same media id is refused.
	_, err = store.SaveTranscript(context.Background(), &queue.TranscriptRecord{
		MediaID:   "med-9",
		WordsJSON: `[{"word":"goodbye","start":0.0,"end":0.5}]`,
	})
	if !errors.Is(err, queue.ErrTranscriptConflict) {
		t.Fatalf("expected ErrTranscriptConflict, got %v", err)
	}
}

func TestInsertBillingEventIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-304", "tpl-1")

	event := &queue.BillingEvent{
		CorrelationID: "corr-1",
		JobID:         job.ID,
		ChargeKind:    "processing_overage_minutes",
		Quantity:      10,
	}
	inserted, err := store.InsertBillingEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("InsertBillingEvent: %v", err)
	}
	if !inserted {
		t.Fatal("first insert must create the event")
	}

	inserted, err = store.InsertBillingEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("InsertBillingEvent (repeat): %v", err)
	}
	if inserted {
		t.Fatal("duplicate correlation id must not create a second event")
	}

	events, err := store.BillingEventsForJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("BillingEventsForJob: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(events))
	}
}
