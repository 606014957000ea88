package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
)

// handleStageFailure durably records a failed assembly. Errors are written
// through the commit layer, not just logged, so retry tooling can find stuck
// jobs. The write uses a context detached from cancellation: a shutdown mid
// failure must not lose the record.
func (m *Manager) handleStageFailure(ctx context.Context, job *queue.Job, stageErr error) {
	logger := logging.WithContext(ctx, m.logger)

	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" && stageErr != nil {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = "assembly failed without error detail"
	}

	attrs := []logging.Attr{
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldEventType, "stage_failure"),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else if stageErr != nil {
		attrs = append(attrs, logging.Error(stageErr))
	}
	logger.Error("assembly failed", logging.Args(attrs...)...)

	commitCtx := context.WithoutCancel(ctx)
	if err := m.store.CommitErrored(commitCtx, job.ID, message, m.policies.Terminal); err != nil {
		if errors.Is(err, queue.ErrCommitExhausted) {
			logger.Error("error commit exhausted, falling back to best effort",
				logging.Alert("terminal-commit-failure"),
				logging.Error(err),
			)
			if writeErr := m.store.BestEffortErrored(commitCtx, job.ID, message); writeErr != nil {
				logger.Error("best-effort error write failed; job may be stuck in processing",
					logging.Error(writeErr),
				)
			}
		} else {
			logger.Error("failed to persist assembly failure", logging.Error(err))
		}
	}

	job.SetFailed(message)
	m.setLastJob(job)
	_ = m.notifier.NotifyAssemblyFailed(commitCtx, job.EpisodeTitle, message)
}
