package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertBillingEvent records a charge exactly once per correlation id. The
// returned bool is true when this call created the event and false when an
// event with the same correlation id already existed (already charged).
func (s *Store) InsertBillingEvent(ctx context.Context, event *BillingEvent) (bool, error) {
	if event == nil {
		return false, errors.New("billing event is nil")
	}
	if event.CorrelationID == "" {
		return false, errors.New("billing event requires a correlation id")
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO billing_events (correlation_id, job_id, charge_kind, quantity, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		event.CorrelationID,
		event.JobID,
		event.ChargeKind,
		event.Quantity,
		timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert billing event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// BillingEventByCorrelationID fetches a ledger entry by its idempotency key.
func (s *Store) BillingEventByCorrelationID(ctx context.Context, correlationID string) (*BillingEvent, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, correlation_id, job_id, charge_kind, quantity, created_at
         FROM billing_events WHERE correlation_id = ?`,
		correlationID,
	)
	event, err := scanBillingEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("billing event by correlation id: %w", err)
	}
	return event, nil
}

// BillingEventsForJob returns the ledger entries recorded for a job.
func (s *Store) BillingEventsForJob(ctx context.Context, jobID int64) ([]*BillingEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, correlation_id, job_id, charge_kind, quantity, created_at
         FROM billing_events WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("billing events for job: %w", err)
	}
	defer rows.Close()

	var events []*BillingEvent
	for rows.Next() {
		event, err := scanBillingEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanBillingEvent(scanner interface{ Scan(dest ...any) error }) (*BillingEvent, error) {
	var (
		id            int64
		correlationID string
		jobID         int64
		chargeKind    string
		quantity      float64
		createdRaw    sql.NullString
	)

	if err := scanner.Scan(&id, &correlationID, &jobID, &chargeKind, &quantity, &createdRaw); err != nil {
		return nil, err
	}

	event := &BillingEvent{
		ID:            id,
		CorrelationID: correlationID,
		JobID:         jobID,
		ChargeKind:    chargeKind,
		Quantity:      quantity,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		event.CreatedAt = created
	}
	return event, nil
}
