package scanner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/db"
	"github.com/smartqueue/reminderd/internal/dispatch"
	"github.com/smartqueue/reminderd/internal/metrics"
)

// SweeperLedger is the slice of the ledger the sweeper needs.
type SweeperLedger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TemplateMaintainer installs default templates idempotently.
type TemplateMaintainer interface {
	EnsureDefault(ctx context.Context, t *db.Template) (*db.Template, error)
}

// SweeperConfig controls the daily maintenance job.
type SweeperConfig struct {
	// Retention is the age past which ledger rows are purged regardless
	// of state.
	Retention time.Duration
	// RunHourUTC is the UTC hour the daily sweep fires at.
	RunHourUTC int
}

// Sweeper is the daily maintenance job: it purges delivery records past
// the retention window and makes sure every reminder category has an
// active template.
type Sweeper struct {
	ledger    SweeperLedger
	templates TemplateMaintainer
	config    SweeperConfig
	logger    *zap.Logger
}

// NewSweeper creates a sweeper. Zero config fields get the design
// defaults (30 days retention, 02:00 UTC).
func NewSweeper(ledger SweeperLedger, templates TemplateMaintainer, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.Retention == 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}

	return &Sweeper{
		ledger:    ledger,
		templates: templates,
		config:    cfg,
		logger:    logger,
	}
}

// Run fires RunOnce daily at the configured hour until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started",
		zap.Duration("retention", s.config.Retention),
		zap.Int("run_hour_utc", s.config.RunHourUTC),
	)

	for {
		wait := time.Until(s.nextRun(time.Now().UTC()))
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("sweeper stopping")
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce purges old ledger rows and re-ensures default templates.
// Returns the number of rows deleted.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.Retention)

	deleted, err := s.ledger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	metrics.RecordRetentionDeleted(deleted)

	s.logger.Info("retention sweep completed",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)

	if err := s.EnsureDefaults(ctx); err != nil {
		// Template maintenance failing does not undo the sweep; the
		// dispatcher installs defaults lazily anyway.
		s.logger.Warn("default template maintenance failed", zap.Error(err))
	}

	return deleted, nil
}

// EnsureDefaults installs the built-in template for every category that
// has no active one. Safe to call concurrently; the insert-if-absent in
// the repository keeps the one-active-per-category invariant.
func (s *Sweeper) EnsureDefaults(ctx context.Context) error {
	for _, category := range db.Categories {
		if _, err := s.templates.EnsureDefault(ctx, dispatch.DefaultTemplate(category)); err != nil {
			return fmt.Errorf("ensure default template for %s: %w", category, err)
		}
	}
	return nil
}

// nextRun returns the next occurrence of the configured UTC hour
// strictly after now.
func (s *Sweeper) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.config.RunHourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
