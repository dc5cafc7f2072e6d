package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// uniqueViolation is the Postgres error code for a unique constraint
// violation. It is the only signal the claim protocol relies on.
const uniqueViolation = "23505"

// ErrRecordNotFound is returned when no delivery record exists for an
// appointment.
var ErrRecordNotFound = errors.New("delivery record not found")

// ErrNotClaimed is returned by MarkSent when the record is missing or
// already sent; the claimed->sent transition happens at most once.
var ErrNotClaimed = errors.New("delivery record is not in claimed state")

// ClaimConflictError means another attempt already owns or completed the
// appointment. It is a normal outcome of overlapping scans, not a failure.
type ClaimConflictError struct {
	AppointmentID string
	State         DeliveryState
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("appointment %s already %s", e.AppointmentID, e.State)
}

// Ledger is the durable record of which appointments have been (or are
// being) notified. It is the sole arbiter of at-most-once delivery.
type Ledger struct {
	db     *DB
	logger *zap.Logger
}

// NewLedger creates a ledger over the given database.
func NewLedger(db *DB, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
	}
}

// Claim inserts a delivery record in state claimed. The insert is the
// mutual exclusion point: the unique index on appointment_id makes sure
// only one concurrent attempt succeeds. When a record already exists,
// Claim returns a *ClaimConflictError carrying the existing state so the
// caller can distinguish already-sent from in-flight.
func (l *Ledger) Claim(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (
			id, appointment_id, recipient_email, appointment_time,
			reminder_category, state, claimed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING created_at, updated_at
	`

	rec.State = StateClaimed
	if rec.ClaimedAt.IsZero() {
		rec.ClaimedAt = time.Now().UTC()
	}

	err := l.db.Pool().QueryRow(
		ctx,
		query,
		rec.ID,
		rec.AppointmentID,
		rec.RecipientEmail,
		rec.AppointmentTime,
		rec.Category,
		rec.State,
		rec.ClaimedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if err == nil {
		l.logger.Info("appointment claimed",
			zap.String("appointment_id", rec.AppointmentID),
			zap.String("category", string(rec.Category)),
		)
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		existing, getErr := l.GetByAppointmentID(ctx, rec.AppointmentID)
		if getErr != nil {
			// The row was there a moment ago; if it vanished (retention
			// sweep racing us) report the conflict as claimed and let the
			// next scan sort it out.
			if errors.Is(getErr, ErrRecordNotFound) {
				return &ClaimConflictError{AppointmentID: rec.AppointmentID, State: StateClaimed}
			}
			return fmt.Errorf("inspect existing claim: %w", getErr)
		}
		return &ClaimConflictError{AppointmentID: rec.AppointmentID, State: existing.State}
	}

	l.logger.Error("failed to claim appointment",
		zap.Error(err),
		zap.String("appointment_id", rec.AppointmentID),
	)
	return fmt.Errorf("insert delivery record: %w", err)
}

// MarkSent finalizes a claimed record after the gateway confirmed
// delivery. The WHERE state = 'claimed' guard keeps the transition
// monotonic even if two callers somehow hold the same claim.
func (l *Ledger) MarkSent(ctx context.Context, appointmentID string, sentAt time.Time) error {
	query := `
		UPDATE delivery_records
		SET state = $1, sent_at = $2, updated_at = NOW()
		WHERE appointment_id = $3 AND state = $4
	`

	result, err := l.db.Pool().Exec(ctx, query, StateSent, sentAt, appointmentID, StateClaimed)
	if err != nil {
		l.logger.Error("failed to mark delivery record sent",
			zap.Error(err),
			zap.String("appointment_id", appointmentID),
		)
		return fmt.Errorf("update delivery record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotClaimed, appointmentID)
	}

	return nil
}

// GetByAppointmentID retrieves a single delivery record.
func (l *Ledger) GetByAppointmentID(ctx context.Context, appointmentID string) (*DeliveryRecord, error) {
	query := `
		SELECT
			id, appointment_id, recipient_email, appointment_time,
			reminder_category, state, claimed_at, sent_at,
			created_at, updated_at
		FROM delivery_records
		WHERE appointment_id = $1
	`

	var rec DeliveryRecord
	err := l.db.Pool().QueryRow(ctx, query, appointmentID).Scan(
		&rec.ID,
		&rec.AppointmentID,
		&rec.RecipientEmail,
		&rec.AppointmentTime,
		&rec.Category,
		&rec.State,
		&rec.ClaimedAt,
		&rec.SentAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, appointmentID)
	}

	if err != nil {
		return nil, fmt.Errorf("query delivery record: %w", err)
	}

	return &rec, nil
}

// ListFilter narrows List results. Nil fields match everything.
type ListFilter struct {
	State    *DeliveryState
	Category *ReminderCategory
	Limit    int
	Offset   int
}

// List retrieves delivery records, newest first.
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]*DeliveryRecord, error) {
	query := `
		SELECT
			id, appointment_id, recipient_email, appointment_time,
			reminder_category, state, claimed_at, sent_at,
			created_at, updated_at
		FROM delivery_records
		WHERE ($1::text IS NULL OR state = $1)
		  AND ($2::text IS NULL OR reminder_category = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	rows, err := l.db.Pool().Query(ctx, query, filter.State, filter.Category, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("query delivery records: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		err := rows.Scan(
			&rec.ID,
			&rec.AppointmentID,
			&rec.RecipientEmail,
			&rec.AppointmentTime,
			&rec.Category,
			&rec.State,
			&rec.ClaimedAt,
			&rec.SentAt,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return records, nil
}

// Stats summarizes ledger contents for the admin surface.
type Stats struct {
	Total       int64            `json:"total"`
	Sent        int64            `json:"sent"`
	Claimed     int64            `json:"claimed"`
	Last24Hours int64            `json:"last_24h"`
	ByCategory  map[string]int64 `json:"by_category"`
	SuccessRate float64          `json:"success_rate"`
}

// GetStats computes aggregate counts over the ledger.
func (l *Ledger) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByCategory: make(map[string]int64)}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = $1),
			COUNT(*) FILTER (WHERE state = $2),
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours')
		FROM delivery_records
	`
	err := l.db.Pool().QueryRow(ctx, query, StateSent, StateClaimed).Scan(
		&stats.Total,
		&stats.Sent,
		&stats.Claimed,
		&stats.Last24Hours,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger stats: %w", err)
	}

	rows, err := l.db.Pool().Query(ctx,
		`SELECT reminder_category, COUNT(*) FROM delivery_records GROUP BY reminder_category`)
	if err != nil {
		return nil, fmt.Errorf("query category stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category stats: %w", err)
		}
		stats.ByCategory[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category stats: %w", err)
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Sent) / float64(stats.Total) * 100
	}

	return stats, nil
}

// DeleteOlderThan removes every record created strictly before cutoff,
// regardless of state, and returns the number deleted. A record stuck in
// claimed past the retention window is abandoned here, not retried.
func (l *Ledger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.Pool().Exec(ctx,
		`DELETE FROM delivery_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old delivery records: %w", err)
	}

	deleted := result.RowsAffected()
	if deleted > 0 {
		l.logger.Info("purged old delivery records",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}

	return deleted, nil
}
