package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/retry"
)

// AssemblyResult is the produced artifact recorded at the terminal commit.
// Immutable once written, except for backend-migration locator rewrites.
type AssemblyResult struct {
	Locator         string
	DurationSeconds float64
	CoverArtLocator string
}

// UnitFunc is a unit of work executed inside one transaction.
type UnitFunc func(ctx context.Context, tx *sql.Tx) error

// ErrCommitExhausted indicates every attempt in a commit retry budget failed.
var ErrCommitExhausted = errors.New("commit retry budget exhausted")

// CommitPolicies carries the two retry budgets the pipeline distinguishes:
// intermediate writes and the terminal status commit. Losing the terminal
// write leaves a job permanently stuck after the expensive work already
// succeeded, so its budget is larger.
type CommitPolicies struct {
	Intermediate retry.Policy
	Terminal     retry.Policy
}

// PoliciesFromConfig builds the commit budgets from workflow configuration.
func PoliciesFromConfig(cfg *config.Config) CommitPolicies {
	initial := time.Duration(cfg.Workflow.CommitBackoffMS) * time.Millisecond
	ceiling := time.Duration(cfg.Workflow.CommitMaxBackoffMS) * time.Millisecond
	return CommitPolicies{
		Intermediate: retry.Policy{
			MaxAttempts:    cfg.Workflow.CommitAttempts,
			InitialBackoff: initial,
			MaxBackoff:     ceiling,
		},
		Terminal: retry.Policy{
			MaxAttempts:    cfg.Workflow.TerminalCommitAttempts,
			InitialBackoff: initial,
			MaxBackoff:     ceiling,
		},
	}
}

// RunUnit executes fn inside a transaction, retrying the whole unit on the
// transient-connection error class. Every exit path rolls back before the
// connection returns to the pool; a connection handed back mid-transaction
// would corrupt every subsequent unrelated caller.
func (s *Store) RunUnit(ctx context.Context, policy retry.Policy, fn UnitFunc) error {
	ctx = ensureContext(ctx)
	err := retry.Do(ctx, policy, isSQLiteBusy, func() error {
		return s.runUnitOnce(ctx, fn)
	})
	if err != nil && isSQLiteBusy(err) {
		return fmt.Errorf("%w: %w", ErrCommitExhausted, err)
	}
	return err
}

func (s *Store) runUnitOnce(ctx context.Context, fn UnitFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	committed = true
	return nil
}

// CommitProcessed durably records a successful assembly: result fields plus
// the terminal processed status, in one transaction under the given budget.
func (s *Store) CommitProcessed(ctx context.Context, jobID int64, result AssemblyResult, policy retry.Policy) error {
	return s.RunUnit(ctx, policy, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, result_locator = ?, result_duration_seconds = ?,
                 cover_art_locator = ?, error_message = NULL,
                 progress_stage = 'Processed', progress_percent = 100,
                 progress_message = 'Episode assembled', last_heartbeat = NULL,
                 updated_at = ?
             WHERE id = ?`,
			StatusProcessed,
			result.Locator,
			result.DurationSeconds,
			nullableString(result.CoverArtLocator),
			now,
			jobID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("job %d not found for terminal commit", jobID)
		}
		return nil
	})
}

// CommitErrored durably records a failed assembly with its failure reason.
// Errors are recorded, not just logged, so retry tooling can find stuck jobs.
func (s *Store) CommitErrored(ctx context.Context, jobID int64, reason string, policy retry.Policy) error {
	return s.RunUnit(ctx, policy, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, error_message = ?, progress_stage = 'Failed',
                 progress_percent = 0, progress_message = ?, last_heartbeat = NULL,
                 updated_at = ?
             WHERE id = ?`,
			StatusError,
			reason,
			reason,
			now,
			jobID,
		)
		return err
	})
}

// BestEffortErrored makes one final attempt to mark a job errored after a
// commit budget was exhausted, so the job is visibly stuck rather than
// silently lost in processing.
func (s *Store) BestEffortErrored(ctx context.Context, jobID int64, reason string) error {
	return s.runUnitOnce(ensureContext(ctx), func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, error_message = ?, progress_stage = 'Failed',
                 progress_percent = 0, last_heartbeat = NULL, updated_at = ?
             WHERE id = ?`,
			StatusError,
			reason,
			now,
			jobID,
		)
		return err
	})
}
