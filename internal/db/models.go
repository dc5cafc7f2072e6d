package db

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryState is the lifecycle state of a DeliveryRecord.
// A record is created as claimed and moves to sent exactly once;
// there is no transition back.
type DeliveryState string

const (
	StateClaimed DeliveryState = "claimed"
	StateSent    DeliveryState = "sent"
)

// ReminderCategory identifies how far ahead of the appointment the
// reminder fires. Each category has its own active email template.
type ReminderCategory string

const (
	Category15Min ReminderCategory = "15min"
	Category1Hour ReminderCategory = "1hour"
	Category1Day  ReminderCategory = "1day"
)

// Categories lists every known reminder category.
var Categories = []ReminderCategory{Category15Min, Category1Hour, Category1Day}

// Valid reports whether c is a known category.
func (c ReminderCategory) Valid() bool {
	switch c {
	case Category15Min, Category1Hour, Category1Day:
		return true
	}
	return false
}

// LeadTime returns how long before the appointment this category fires.
func (c ReminderCategory) LeadTime() time.Duration {
	switch c {
	case Category1Hour:
		return time.Hour
	case Category1Day:
		return 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}

// DeliveryRecord is one row of the delivery ledger. The unique constraint
// on AppointmentID is what makes a claim atomic: the first insert wins,
// every later attempt gets a constraint violation.
type DeliveryRecord struct {
	ID              uuid.UUID        `json:"id"`
	AppointmentID   string           `json:"appointment_id"`
	RecipientEmail  string           `json:"recipient_email"`
	AppointmentTime time.Time        `json:"appointment_time"`
	Category        ReminderCategory `json:"reminder_category"`
	State           DeliveryState    `json:"state"`
	ClaimedAt       time.Time        `json:"claimed_at"`
	SentAt          *time.Time       `json:"sent_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Template is an email template for one reminder category. At most one
// template per category may be active at a time (partial unique index).
type Template struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Category  ReminderCategory `json:"reminder_category"`
	IsActive  bool             `json:"is_active"`
	Subject   string           `json:"subject"`
	BodyText  string           `json:"body_text"`
	BodyHTML  string           `json:"body_html"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
