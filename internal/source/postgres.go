package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/db"
)

// PostgresAdapter reads the booking system's tables directly. The
// schema belongs to the booking system; only SELECTs plus the notified
// flag UPDATE touch it.
type PostgresAdapter struct {
	db     *db.DB
	logger *zap.Logger
}

// NewPostgresAdapter creates an adapter over the shared database.
func NewPostgresAdapter(database *db.DB, logger *zap.Logger) *PostgresAdapter {
	return &PostgresAdapter{
		db:     database,
		logger: logger,
	}
}

// FindDue implements Adapter.
func (a *PostgresAdapter) FindDue(ctx context.Context, start, end time.Time, statuses []string) ([]*AppointmentSnapshot, error) {
	query := `
		SELECT id, scheduled_at, status, notification_email, notified,
		       requester_id, department_id, service_id, token_number, queue_position
		FROM appointments
		WHERE scheduled_at >= $1
		  AND scheduled_at <= $2
		  AND status = ANY($3)
		  AND NOT notified
	`

	rows, err := a.db.Pool().Query(ctx, query, start, end, statuses)
	if err != nil {
		return nil, fmt.Errorf("query due appointments: %w", err)
	}
	defer rows.Close()

	var snapshots []*AppointmentSnapshot
	for rows.Next() {
		var snap AppointmentSnapshot
		err := rows.Scan(
			&snap.ID,
			&snap.ScheduledAt,
			&snap.Status,
			&snap.RecipientEmail,
			&snap.Notified,
			&snap.RequesterID,
			&snap.DepartmentID,
			&snap.ServiceID,
			&snap.TokenNumber,
			&snap.QueuePosition,
		)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointments: %w", err)
	}

	return snapshots, nil
}

// GetByID implements Adapter.
func (a *PostgresAdapter) GetByID(ctx context.Context, id string) (*AppointmentSnapshot, error) {
	query := `
		SELECT id, scheduled_at, status, notification_email, notified,
		       requester_id, department_id, service_id, token_number, queue_position
		FROM appointments
		WHERE id = $1
	`

	var snap AppointmentSnapshot
	err := a.db.Pool().QueryRow(ctx, query, id).Scan(
		&snap.ID,
		&snap.ScheduledAt,
		&snap.Status,
		&snap.RecipientEmail,
		&snap.Notified,
		&snap.RequesterID,
		&snap.DepartmentID,
		&snap.ServiceID,
		&snap.TokenNumber,
		&snap.QueuePosition,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query appointment: %w", err)
	}

	return &snap, nil
}

// MarkNotified implements Adapter.
func (a *PostgresAdapter) MarkNotified(ctx context.Context, id string) error {
	result, err := a.db.Pool().Exec(ctx,
		`UPDATE appointments SET notified = TRUE, notified_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark appointment notified: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}

	a.logger.Debug("appointment marked notified on source",
		zap.String("appointment_id", id),
	)

	return nil
}

// GetRequester implements Adapter.
func (a *PostgresAdapter) GetRequester(ctx context.Context, id string) (*Requester, error) {
	var r Requester
	err := a.db.Pool().QueryRow(ctx,
		`SELECT id, first_name, last_name, email FROM requesters WHERE id = $1`, id,
	).Scan(&r.ID, &r.FirstName, &r.LastName, &r.Email)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: requester %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query requester: %w", err)
	}

	return &r, nil
}

// GetDepartment implements Adapter.
func (a *PostgresAdapter) GetDepartment(ctx context.Context, id string) (*Department, error) {
	var d Department
	err := a.db.Pool().QueryRow(ctx,
		`SELECT id, name, location FROM departments WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Location)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: department %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query department: %w", err)
	}

	return &d, nil
}

// GetService implements Adapter.
func (a *PostgresAdapter) GetService(ctx context.Context, id string) (*Service, error) {
	var s Service
	err := a.db.Pool().QueryRow(ctx,
		`SELECT id, name, duration_minutes FROM services WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.DurationMinutes)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: service %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query service: %w", err)
	}

	return &s, nil
}
