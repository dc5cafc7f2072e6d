package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrTemplateNotFound is returned when no template matches the lookup.
var ErrTemplateNotFound = errors.New("template not found")

// ErrActiveTemplateExists is returned when an insert or update would
// leave two active templates for the same category.
var ErrActiveTemplateExists = errors.New("an active template already exists for this category")

// TemplateRepository manages email templates. The one-active-template-
// per-category invariant is a partial unique index on
// (reminder_category) WHERE is_active, so activation conflicts surface
// as constraint violations rather than racy application checks.
type TemplateRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTemplateRepository creates a template repository.
func NewTemplateRepository(db *DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// GetActive returns the active template for a category.
func (r *TemplateRepository) GetActive(ctx context.Context, category ReminderCategory) (*Template, error) {
	query := `
		SELECT id, name, reminder_category, is_active, subject,
		       body_text, body_html, created_at, updated_at
		FROM email_templates
		WHERE reminder_category = $1 AND is_active
	`

	var t Template
	err := r.db.Pool().QueryRow(ctx, query, category).Scan(
		&t.ID,
		&t.Name,
		&t.Category,
		&t.IsActive,
		&t.Subject,
		&t.BodyText,
		&t.BodyHTML,
		&t.CreatedAt,
		&t.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active template for %s", ErrTemplateNotFound, category)
	}
	if err != nil {
		return nil, fmt.Errorf("query active template: %w", err)
	}

	return &t, nil
}

// Create inserts a new template. Inserting a second active template for
// a category fails with ErrActiveTemplateExists.
func (r *TemplateRepository) Create(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	query := `
		INSERT INTO email_templates (
			id, name, reminder_category, is_active, subject, body_text, body_html
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		t.ID, t.Name, t.Category, t.IsActive, t.Subject, t.BodyText, t.BodyHTML,
	).Scan(&t.CreatedAt, &t.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrActiveTemplateExists, t.Category)
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	r.logger.Info("template created",
		zap.String("id", t.ID.String()),
		zap.String("name", t.Name),
		zap.String("category", string(t.Category)),
	)

	return nil
}

// EnsureDefault installs t as the active template for its category if
// and only if none is active yet. Concurrent callers race on the partial
// unique index; ON CONFLICT DO NOTHING means the losers silently defer
// to the winner. Returns the active template either way.
func (r *TemplateRepository) EnsureDefault(ctx context.Context, t *Template) (*Template, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	query := `
		INSERT INTO email_templates (
			id, name, reminder_category, is_active, subject, body_text, body_html
		) VALUES ($1, $2, $3, TRUE, $4, $5, $6)
		ON CONFLICT (reminder_category) WHERE is_active DO NOTHING
	`

	result, err := r.db.Pool().Exec(ctx, query,
		t.ID, t.Name, t.Category, t.Subject, t.BodyText, t.BodyHTML,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure default template: %w", err)
	}

	if result.RowsAffected() > 0 {
		r.logger.Info("default template installed",
			zap.String("category", string(t.Category)),
			zap.String("name", t.Name),
		)
	}

	return r.GetActive(ctx, t.Category)
}

// Get retrieves a template by id.
func (r *TemplateRepository) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `
		SELECT id, name, reminder_category, is_active, subject,
		       body_text, body_html, created_at, updated_at
		FROM email_templates
		WHERE id = $1
	`

	var t Template
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.Category,
		&t.IsActive,
		&t.Subject,
		&t.BodyText,
		&t.BodyHTML,
		&t.CreatedAt,
		&t.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	return &t, nil
}

// List retrieves all templates, newest first.
func (r *TemplateRepository) List(ctx context.Context) ([]*Template, error) {
	query := `
		SELECT id, name, reminder_category, is_active, subject,
		       body_text, body_html, created_at, updated_at
		FROM email_templates
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var t Template
		err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.Category,
			&t.IsActive,
			&t.Subject,
			&t.BodyText,
			&t.BodyHTML,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return templates, nil
}

// Update rewrites an existing template. Activating a template while
// another is active for the same category fails with
// ErrActiveTemplateExists.
func (r *TemplateRepository) Update(ctx context.Context, t *Template) error {
	query := `
		UPDATE email_templates
		SET name = $1, reminder_category = $2, is_active = $3,
		    subject = $4, body_text = $5, body_html = $6, updated_at = NOW()
		WHERE id = $7
	`

	result, err := r.db.Pool().Exec(ctx, query,
		t.Name, t.Category, t.IsActive, t.Subject, t.BodyText, t.BodyHTML, t.ID,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrActiveTemplateExists, t.Category)
	}
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, t.ID)
	}

	return nil
}
