package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/retry"
	"github.com/tgdscott/DoneCast-sub003/internal/testsupport"
)

func testPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestCommitProcessedWritesResultAndStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-200", "tpl-1")

	result := queue.AssemblyResult{
		Locator:         "s3://donecast-media/final/ep-200.mp3",
		DurationSeconds: 5400,
		CoverArtLocator: "s3://donecast-media/covers/ep-200.jpg",
	}
	if err := store.CommitProcessed(context.Background(), job.ID, result, testPolicy(3)); err != nil {
		t.Fatalf("CommitProcessed: %v", err)
	}

	reloaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusProcessed {
		t.Fatalf("expected processed, got %s", reloaded.Status)
	}
	if reloaded.ResultLocator != result.Locator || reloaded.ResultDuration != result.DurationSeconds {
		t.Fatalf("result not persisted: %+v", reloaded)
	}
}

func TestCommitProcessedUnknownJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	err := store.CommitProcessed(context.Background(), 9999, queue.AssemblyResult{Locator: "x"}, testPolicy(2))
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestCommitErroredRecordsReason(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-201", "tpl-1")

	if err := store.CommitErrored(context.Background(), job.ID, "missing input: intro.mp3", testPolicy(3)); err != nil {
		t.Fatalf("CommitErrored: %v", err)
	}

	reloaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusError {
		t.Fatalf("expected error status, got %s", reloaded.Status)
	}
	if reloaded.ErrorMessage != "missing input: intro.mp3" {
		t.Fatalf("failure reason not recorded: %q", reloaded.ErrorMessage)
	}
}

func TestRunUnitRetriesTransientFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-202", "tpl-1")

	// Two simulated busy failures, then success on the third attempt,
	// within a three-attempt budget.
	attempts := 0
	err := store.RunUnit(context.Background(), testPolicy(3), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET progress_message = 'committed' WHERE id = ?`, job.ID)
		return err
	})
	if err != nil {
		t.Fatalf("RunUnit: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	reloaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.ProgressMessage != "committed" {
		t.Fatalf("unit result not visible: %q", reloaded.ProgressMessage)
	}
}

func TestRunUnitExhaustedBudgetRollsBack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-203", "tpl-1")

	attempts := 0
	err := store.RunUnit(context.Background(), testPolicy(2), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		if _, execErr := tx.ExecContext(ctx, `UPDATE jobs SET progress_message = 'partial' WHERE id = ?`, job.ID); execErr != nil {
			return execErr
		}
		return errors.New("SQLITE_BUSY")
	})
	if !errors.Is(err, queue.ErrCommitExhausted) {
		t.Fatalf("expected ErrCommitExhausted, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}

	// The partial write inside the failed unit must have been rolled back.
	reloaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.ProgressMessage == "partial" {
		t.Fatal("rolled-back write leaked out of the transaction")
	}
}

func TestRunUnitDoesNotRetryPermanentErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	permanent := errors.New("constraint violation")
	attempts := 0
	err := store.RunUnit(context.Background(), testPolicy(5), func(ctx context.Context, tx *sql.Tx) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("permanent errors must not be retried, got %d attempts", attempts)
	}
}

func TestBestEffortErroredAfterExhaustion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, "ep-204", "tpl-1")

	job.Status = queue.StatusProcessing
	if err := store.Update(context.Background(), job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := store.BestEffortErrored(context.Background(), job.ID, "terminal commit exhausted"); err != nil {
		t.Fatalf("BestEffortErrored: %v", err)
	}

	reloaded, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reloaded.Status != queue.StatusError {
		t.Fatalf("job left in %s; must never stay in processing", reloaded.Status)
	}
}
