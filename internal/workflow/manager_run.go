package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
	"github.com/tgdscott/DoneCast-sub003/internal/services"
)

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStale(ctx); err != nil {
			m.logger.Warn("reclaim stale processing failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}

		job, err := m.store.NextForStatuses(ctx, queue.StatusPending)
		if err != nil {
			m.handleNextJobError(ctx, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) handleNextJobError(ctx context.Context, err error) {
	m.setLastError(err)
	m.logger.Error("failed to fetch next queue job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) processJob(ctx context.Context, job *queue.Job) error {
	jobCtx := services.WithJobID(ctx, job.ID)
	jobLogger := logging.WithContext(jobCtx, m.logger)

	if err := m.transitionToProcessing(jobCtx, job); err != nil {
		jobLogger.Error("failed to transition job to processing", logging.Error(err))
		m.setLastError(err)
		return err
	}
	_ = m.notifier.NotifyAssemblyStarted(jobCtx, job.EpisodeTitle)

	start := time.Now()
	jobLogger.Info("assembly started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldEpisodeID, job.EpisodeID),
	)

	if err := m.handler.Prepare(jobCtx, job); err != nil {
		m.handleStageFailure(jobCtx, job, err)
		m.setLastError(err)
		return err
	}

	execErr := m.executeWithHeartbeat(jobCtx, job)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			jobLogger.Debug("assembly interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(jobCtx, job, execErr)
		m.setLastError(execErr)
		return execErr
	}

	jobLogger.Info("assembly completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("locator", job.ResultLocator),
		logging.Duration("stage_duration", time.Since(start)),
	)
	m.setLastJob(job)
	_ = m.notifier.NotifyAssemblyCompleted(
		jobCtx,
		job.EpisodeTitle,
		time.Duration(job.ResultDuration*float64(time.Second)),
	)
	return nil
}

// transitionToProcessing admits a pending job into the pipeline.
func (m *Manager) transitionToProcessing(ctx context.Context, job *queue.Job) error {
	now := time.Now().UTC()
	job.Status = queue.StatusProcessing
	job.ErrorMessage = ""
	job.SetProgress("Assembling", "Assembly started", 0)
	job.LastHeartbeat = &now
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}
	m.setLastJob(job)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, job *queue.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := m.handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}
