// Package source is the read-only adapter over the appointment store
// owned by the booking system. This service never creates or deletes
// appointments; the only write it performs is the best-effort notified
// flag update after a reminder goes out.
package source

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the appointment or related entity does
// not exist in the source store.
var ErrNotFound = errors.New("not found in appointment source")

// PendingStatuses are the appointment statuses still eligible for a
// reminder. Anything else (cancelled, completed, no-show) is skipped.
var PendingStatuses = []string{"waiting", "confirmed", "scheduled"}

// AppointmentSnapshot is a point-in-time read of one appointment.
type AppointmentSnapshot struct {
	ID             string    `json:"id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Status         string    `json:"status"`
	RecipientEmail string    `json:"recipient_email"`
	Notified       bool      `json:"notified"`
	RequesterID    string    `json:"requester_id"`
	DepartmentID   string    `json:"department_id"`
	ServiceID      string    `json:"service_id"`
	TokenNumber    string    `json:"token_number"`
	QueuePosition  int       `json:"queue_position"`
}

// Requester is the person the appointment was booked for.
type Requester struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Department is the office handling the appointment.
type Department struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Service is the kind of appointment booked.
type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Adapter is the query interface over the external appointment store.
type Adapter interface {
	// FindDue returns appointments scheduled inside [start, end] whose
	// status is in statuses and whose notified flag is not set.
	FindDue(ctx context.Context, start, end time.Time, statuses []string) ([]*AppointmentSnapshot, error)

	// GetByID returns one appointment or ErrNotFound.
	GetByID(ctx context.Context, id string) (*AppointmentSnapshot, error)

	// MarkNotified sets the notified flag on the source record. This is
	// advisory only; the delivery ledger stays authoritative.
	MarkNotified(ctx context.Context, id string) error

	GetRequester(ctx context.Context, id string) (*Requester, error)
	GetDepartment(ctx context.Context, id string) (*Department, error)
	GetService(ctx context.Context, id string) (*Service, error)
}
