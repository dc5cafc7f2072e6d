package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/db"
)

type memSweepLedger struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (l *memSweepLedger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	l.cutoff = cutoff
	return l.deleted, l.err
}

type memTemplateMaintainer struct {
	installed []db.ReminderCategory
	err       error
}

func (m *memTemplateMaintainer) EnsureDefault(ctx context.Context, t *db.Template) (*db.Template, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.installed = append(m.installed, t.Category)
	return t, nil
}

func TestRunOnce_UsesRetentionCutoff(t *testing.T) {
	ledger := &memSweepLedger{deleted: 7}
	templates := &memTemplateMaintainer{}
	s := NewSweeper(ledger, templates, SweeperConfig{Retention: 30 * 24 * time.Hour}, zap.NewNop())

	before := time.Now().UTC().Add(-30 * 24 * time.Hour)
	deleted, err := s.RunOnce(context.Background())
	after := time.Now().UTC().Add(-30 * 24 * time.Hour)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 7 {
		t.Errorf("expected 7 deleted, got %d", deleted)
	}
	if ledger.cutoff.Before(before) || ledger.cutoff.After(after) {
		t.Errorf("cutoff %v not within [%v, %v]", ledger.cutoff, before, after)
	}
}

func TestRunOnce_DeleteFailureStopsSweep(t *testing.T) {
	ledger := &memSweepLedger{err: errors.New("connection lost")}
	templates := &memTemplateMaintainer{}
	s := NewSweeper(ledger, templates, SweeperConfig{}, zap.NewNop())

	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected sweep to fail")
	}
	if len(templates.installed) != 0 {
		t.Error("template maintenance should not run after a failed delete")
	}
}

func TestRunOnce_TemplateFailureDoesNotFailSweep(t *testing.T) {
	ledger := &memSweepLedger{deleted: 1}
	templates := &memTemplateMaintainer{err: errors.New("constraint violation")}
	s := NewSweeper(ledger, templates, SweeperConfig{}, zap.NewNop())

	deleted, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("template failure must not fail the sweep: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestEnsureDefaults_CoversEveryCategory(t *testing.T) {
	templates := &memTemplateMaintainer{}
	s := NewSweeper(&memSweepLedger{}, templates, SweeperConfig{}, zap.NewNop())

	if err := s.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(templates.installed) != len(db.Categories) {
		t.Fatalf("expected %d installs, got %d", len(db.Categories), len(templates.installed))
	}
	seen := make(map[db.ReminderCategory]bool)
	for _, c := range templates.installed {
		seen[c] = true
	}
	for _, c := range db.Categories {
		if !seen[c] {
			t.Errorf("category %s never installed", c)
		}
	}
}

func TestNextRun(t *testing.T) {
	s := NewSweeper(&memSweepLedger{}, &memTemplateMaintainer{}, SweeperConfig{RunHourUTC: 2}, zap.NewNop())

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{
			now:  time.Date(2026, 3, 14, 1, 30, 0, 0, time.UTC),
			want: time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC),
		},
		{
			now:  time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC),
		},
		{
			now:  time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC),
			want: time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		got := s.nextRun(tt.now)
		if !got.Equal(tt.want) {
			t.Errorf("nextRun(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}
