// Package scanner drives the reminder pipeline: the periodic scan of
// the appointment source, the claim-and-send protocol per candidate,
// and the daily retention sweep.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/db"
	"github.com/smartqueue/reminderd/internal/metrics"
	"github.com/smartqueue/reminderd/internal/source"
)

// Ledger is the slice of the delivery ledger the scanner needs.
type Ledger interface {
	Claim(ctx context.Context, rec *db.DeliveryRecord) error
	MarkSent(ctx context.Context, appointmentID string, sentAt time.Time) error
}

// Dispatcher renders and sends a reminder for one appointment.
type Dispatcher interface {
	Dispatch(ctx context.Context, snap *source.AppointmentSnapshot, category db.ReminderCategory) error
}

// Config controls the scan loop.
type Config struct {
	// Interval between scan ticks.
	Interval time.Duration
	// LeadTime is how far before the appointment the reminder fires.
	LeadTime time.Duration
	// Tolerance widens the window on both sides so appointments cannot
	// slip between adjacent ticks. Must be at least Interval/2; the
	// claim protocol absorbs the double-discovery this causes.
	Tolerance time.Duration
	// Category stamped on ledger rows and used for template selection.
	Category db.ReminderCategory
	// Concurrency bounds the per-appointment workers within one tick.
	Concurrency int
}

// Summary is the externally observable outcome of one scan tick.
type Summary struct {
	Found   int `json:"found"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Scanner discovers due appointments and runs the claim-and-send
// protocol for each. All correctness under overlapping scans lives in
// the ledger's unique insert; the scanner itself only has to keep one
// candidate's failure from touching the others.
type Scanner struct {
	src        source.Adapter
	ledger     Ledger
	dispatcher Dispatcher
	config     Config
	logger     *zap.Logger
}

// New creates a scanner. Zero config fields get the design defaults.
func New(src source.Adapter, ledger Ledger, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Scanner {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.LeadTime == 0 {
		cfg.LeadTime = 15 * time.Minute
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = time.Minute
	}
	if cfg.Category == "" {
		cfg.Category = db.Category15Min
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	return &Scanner{
		src:        src,
		ledger:     ledger,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

// Run executes scan ticks until the context is cancelled. Ticks never
// overlap: Scan runs synchronously in the loop, so a slow tick delays
// the next one rather than racing it. In-flight per-appointment
// attempts are allowed to finish on shutdown via the scan's own
// WaitGroup before Run returns.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("scanner started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("lead_time", s.config.LeadTime),
		zap.Duration("tolerance", s.config.Tolerance),
		zap.String("category", string(s.config.Category)),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopping")
			return
		case <-ticker.C:
			summary := s.Scan(ctx)
			if summary.Found > 0 {
				s.logger.Info("scan completed",
					zap.Int("found", summary.Found),
					zap.Int("sent", summary.Sent),
					zap.Int("skipped", summary.Skipped),
					zap.Int("failed", summary.Failed),
				)
			}
		}
	}
}

// Window returns the notification window a scan starting now would use.
func (s *Scanner) Window(now time.Time) (time.Time, time.Time) {
	target := now.Add(s.config.LeadTime)
	return target.Add(-s.config.Tolerance), target.Add(s.config.Tolerance)
}

// Scan executes one tick: query the window, then claim-and-send each
// candidate independently. A source failure skips the whole tick; the
// next tick re-covers the window and the claim protocol keeps the
// overlap harmless.
func (s *Scanner) Scan(ctx context.Context) Summary {
	start := time.Now()

	windowStart, windowEnd := s.Window(start)
	snapshots, err := s.src.FindDue(ctx, windowStart, windowEnd, source.PendingStatuses)
	if err != nil {
		s.logger.Error("appointment source unavailable, skipping tick",
			zap.Error(err),
			zap.Time("window_start", windowStart),
			zap.Time("window_end", windowEnd),
		)
		metrics.RecordSourceUnavailable()
		return Summary{}
	}

	summary := Summary{Found: len(snapshots)}
	if len(snapshots) == 0 {
		metrics.RecordScan(0, 0, 0, time.Since(start))
		return summary
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.config.Concurrency)
	)

	for _, snap := range snapshots {
		wg.Add(1)
		sem <- struct{}{}
		go func(snap *source.AppointmentSnapshot) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.Process(ctx, snap)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Sent++
			case isClaimConflict(err):
				summary.Skipped++
			default:
				summary.Failed++
			}
		}(snap)
	}

	wg.Wait()

	metrics.RecordScan(summary.Sent, summary.Skipped, summary.Failed, time.Since(start))
	return summary
}

// Process runs the claim-and-send protocol for one appointment:
//
//  1. atomic claim — insert the ledger row; a conflict means another
//     attempt owns or completed this appointment, stop
//  2. render + dispatch — on failure the row stays claimed and is
//     abandoned until the retention sweep purges it
//  3. finalize — mark the row sent, then best-effort flag the source
//
// The manual send-now path calls this directly with a single snapshot.
func (s *Scanner) Process(ctx context.Context, snap *source.AppointmentSnapshot) error {
	rec := &db.DeliveryRecord{
		ID:              uuid.New(),
		AppointmentID:   snap.ID,
		RecipientEmail:  snap.RecipientEmail,
		AppointmentTime: snap.ScheduledAt,
		Category:        s.config.Category,
		ClaimedAt:       time.Now().UTC(),
	}

	if err := s.ledger.Claim(ctx, rec); err != nil {
		var conflict *db.ClaimConflictError
		if errors.As(err, &conflict) {
			metrics.RecordClaimConflict(string(conflict.State))
			s.logger.Debug("claim conflict, skipping",
				zap.String("appointment_id", snap.ID),
				zap.String("existing_state", string(conflict.State)),
			)
			return err
		}
		return fmt.Errorf("claim appointment %s: %w", snap.ID, err)
	}

	if err := s.dispatcher.Dispatch(ctx, snap, s.config.Category); err != nil {
		// The record stays claimed: redelivery would risk a duplicate
		// email, so the claim is abandoned until the retention sweep.
		s.logger.Error("dispatch failed, claim abandoned",
			zap.Error(err),
			zap.String("appointment_id", snap.ID),
		)
		return err
	}

	if err := s.ledger.MarkSent(ctx, snap.ID, time.Now().UTC()); err != nil {
		// The email went out but the ledger update failed. The row is
		// still claimed, so no duplicate can follow; surface the error
		// for operators.
		s.logger.Error("reminder sent but ledger finalize failed",
			zap.Error(err),
			zap.String("appointment_id", snap.ID),
		)
		return fmt.Errorf("finalize appointment %s: %w", snap.ID, err)
	}

	metrics.RecordReminderSent(string(s.config.Category))

	if err := s.src.MarkNotified(ctx, snap.ID); err != nil {
		// Advisory only; the ledger already guarantees at-most-once.
		s.logger.Warn("failed to mark appointment notified on source",
			zap.Error(err),
			zap.String("appointment_id", snap.ID),
		)
	}

	return nil
}

// SendNow runs the claim-and-send protocol for a single appointment,
// exactly as a scan would. Returns source.ErrNotFound when the
// appointment is unknown and *db.ClaimConflictError when it was already
// handled.
func (s *Scanner) SendNow(ctx context.Context, appointmentID string) error {
	snap, err := s.src.GetByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	return s.Process(ctx, snap)
}

// CountDue returns how many appointments sit in the current window.
// Used by the stats endpoint and the health check.
func (s *Scanner) CountDue(ctx context.Context) (int, error) {
	windowStart, windowEnd := s.Window(time.Now())
	snapshots, err := s.src.FindDue(ctx, windowStart, windowEnd, source.PendingStatuses)
	if err != nil {
		return 0, err
	}
	return len(snapshots), nil
}

func isClaimConflict(err error) bool {
	var conflict *db.ClaimConflictError
	return errors.As(err, &conflict)
}
