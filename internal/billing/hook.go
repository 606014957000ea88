package billing

import (
	"context"
	"log/slog"
	"math"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
	"github.com/tgdscott/DoneCast-sub003/internal/logging"
	"github.com/tgdscott/DoneCast-sub003/internal/queue"
)

// Hook applies usage surcharges after a successful assembly. Failures here
// are billing-integrity gaps, never assembly failures: the orchestrator logs
// the returned error and completes the job regardless.
type Hook struct {
	cfg    *config.Config
	store  *queue.Store
	ledger Ledger
	logger *slog.Logger
}

// NewHook constructs the billing hook.
func NewHook(cfg *config.Config, store *queue.Store, ledger Ledger, logger *slog.Logger) *Hook {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hook{
		cfg:    cfg,
		store:  store,
		ledger: ledger,
		logger: logging.NewComponentLogger(logger, "billing"),
	}
}

// ChargeOverage records the plan-overage surcharge for a finished episode.
// The local ledger row is the idempotency gate: the first caller for a
// (job, charge kind) pair inserts it and forwards the charge; every later
// caller sees the existing row and no-ops, so retried jobs never double
// charge.
func (h *Hook) ChargeOverage(ctx context.Context, job *queue.Job, durationSeconds float64) error {
	if !h.cfg.Billing.Enabled {
		return nil
	}

	overage := overageMinutes(durationSeconds, h.cfg.Billing.PlanIncludedMinutes)
	if overage <= 0 {
		return nil
	}

	correlationID := CorrelationID(job.ID, ChargeKindOverageMinutes)
	inserted, err := h.store.InsertBillingEvent(ctx, &queue.BillingEvent{
		CorrelationID: correlationID,
		JobID:         job.ID,
		ChargeKind:    ChargeKindOverageMinutes,
		Quantity:      float64(overage),
	})
	if err != nil {
		return err
	}
	if !inserted {
		h.logger.Debug("charge already recorded",
			logging.String(logging.FieldCorrelationID, correlationID),
			logging.Int64(logging.FieldJobID, job.ID),
		)
		return nil
	}

	outcome, err := h.ledger.Charge(ctx, job.EpisodeID, float64(overage), correlationID)
	if err != nil {
		h.logger.Error("ledger charge failed, billing-integrity gap recorded",
			logging.String(logging.FieldCorrelationID, correlationID),
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Int("overage_minutes", overage),
			logging.Error(err),
		)
		return err
	}

	h.logger.Info("overage charged",
		logging.String(logging.FieldCorrelationID, correlationID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("overage_minutes", overage),
		logging.String("outcome", string(outcome)),
	)
	return nil
}

// overageMinutes computes whole billable minutes past the plan's included
// allowance. Partial minutes round up: a 90:01 episode on a 90-minute plan
// is one overage minute.
func overageMinutes(durationSeconds float64, includedMinutes int) int {
	if durationSeconds <= 0 {
		return 0
	}
	minutes := int(math.Ceil(durationSeconds / 60))
	overage := minutes - includedMinutes
	if overage < 0 {
		return 0
	}
	return overage
}
