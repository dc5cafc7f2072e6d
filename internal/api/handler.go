package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/db"
	"github.com/smartqueue/reminderd/internal/dispatch"
	"github.com/smartqueue/reminderd/internal/source"
)

// LedgerReader is the read-only slice of the ledger the admin surface
// exposes.
type LedgerReader interface {
	GetByAppointmentID(ctx context.Context, appointmentID string) (*db.DeliveryRecord, error)
	List(ctx context.Context, filter db.ListFilter) ([]*db.DeliveryRecord, error)
	GetStats(ctx context.Context) (*db.Stats, error)
}

// TemplateStore is the template CRUD the admin surface exposes.
type TemplateStore interface {
	Create(ctx context.Context, t *db.Template) error
	Get(ctx context.Context, id uuid.UUID) (*db.Template, error)
	List(ctx context.Context) ([]*db.Template, error)
	Update(ctx context.Context, t *db.Template) error
}

// ReminderSender is the manual send-now entry point into the claim
// protocol, plus the current-window count for stats.
type ReminderSender interface {
	SendNow(ctx context.Context, appointmentID string) error
	CountDue(ctx context.Context) (int, error)
}

// TestMailer verifies the email path end to end.
type TestMailer interface {
	SendTest(ctx context.Context, recipient string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger        *zap.Logger
	ledger        LedgerReader
	templates     TemplateStore
	sender        ReminderSender
	mailer        TestMailer
	testRecipient string
}

// NewHandler creates a new API handler. testRecipient is where
// POST /v1/test-email sends its message (the configured from-address).
func NewHandler(logger *zap.Logger, ledger LedgerReader, templates TemplateStore,
	sender ReminderSender, mailer TestMailer, testRecipient string) *Handler {
	return &Handler{
		logger:        logger,
		ledger:        ledger,
		templates:     templates,
		sender:        sender,
		mailer:        mailer,
		testRecipient: testRecipient,
	}
}

// ListReminders handles GET /v1/reminders?state=sent&category=15min&limit=20&offset=0
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var filter db.ListFilter

	if stateStr := r.URL.Query().Get("state"); stateStr != "" {
		state := db.DeliveryState(stateStr)
		if state != db.StateClaimed && state != db.StateSent {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid state", "state must be claimed or sent")
			return
		}
		filter.State = &state
	}

	if categoryStr := r.URL.Query().Get("category"); categoryStr != "" {
		category := db.ReminderCategory(categoryStr)
		if !category.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid category", "category must be 15min, 1hour, or 1day")
			return
		}
		filter.Category = &category
	}

	filter.Limit = 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			filter.Limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	records, err := h.ledger.List(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list delivery records", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   records,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(records),
	})
}

// GetReminder handles GET /v1/reminders/{appointmentID}
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID := chi.URLParam(r, "appointmentID")

	rec, err := h.ledger.GetByAppointmentID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Reminder not found", "")
			return
		}
		h.logger.Error("failed to get delivery record",
			zap.Error(err),
			zap.String("appointment_id", appointmentID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get reminder", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rec)
}

// SendReminder handles POST /v1/reminders/{appointmentID}/send. It
// re-enters the claim protocol exactly as a scan would for this one
// appointment, so it can never produce a duplicate email.
func (h *Handler) SendReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appointmentID := chi.URLParam(r, "appointmentID")

	err := h.sender.SendNow(ctx, appointmentID)
	if err != nil {
		var conflict *db.ClaimConflictError
		switch {
		case errors.Is(err, source.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Appointment not found", "")
			return
		case errors.As(err, &conflict):
			h.writeError(w, http.StatusConflict, "already_handled",
				"Reminder already claimed or sent",
				"existing record state: "+string(conflict.State))
			return
		default:
			var renderErr *dispatch.RenderError
			if errors.As(err, &renderErr) {
				h.logger.Error("manual send render failure",
					zap.Error(err),
					zap.String("appointment_id", appointmentID),
				)
				h.writeError(w, http.StatusUnprocessableEntity, "render_error",
					"Template could not be rendered", renderErr.Error())
				return
			}
			h.logger.Error("manual send failed",
				zap.Error(err),
				zap.String("appointment_id", appointmentID),
			)
			h.writeError(w, http.StatusBadGateway, "dispatch_error", "Failed to send reminder", "")
			return
		}
	}

	h.logger.Info("manual reminder sent", zap.String("appointment_id", appointmentID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"appointment_id": appointmentID,
		"status":         "sent",
	})
}

// TemplateRequest is the create/update body for templates.
type TemplateRequest struct {
	Name     string `json:"name"`
	Category string `json:"reminder_category"`
	IsActive bool   `json:"is_active"`
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
	BodyHTML string `json:"body_html"`
}

func (req *TemplateRequest) validate() (db.ReminderCategory, string) {
	if req.Name == "" || req.Subject == "" || req.BodyText == "" {
		return "", "name, subject, and body_text are required"
	}
	category := db.ReminderCategory(req.Category)
	if !category.Valid() {
		return "", "reminder_category must be 15min, 1hour, or 1day"
	}
	return category, ""
}

// CreateTemplate handles POST /v1/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	category, problem := req.validate()
	if problem != "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template", problem)
		return
	}

	tpl := &db.Template{
		Name:     req.Name,
		Category: category,
		IsActive: req.IsActive,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}

	if err := h.templates.Create(ctx, tpl); err != nil {
		if errors.Is(err, db.ErrActiveTemplateExists) {
			h.writeError(w, http.StatusConflict, "active_template_exists",
				"An active template already exists for this category",
				"deactivate the existing template first, or create this one inactive")
			return
		}
		h.logger.Error("failed to create template", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create template", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(tpl)
}

// ListTemplates handles GET /v1/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list templates", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list templates", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  templates,
		"count": len(templates),
	})
}

// GetTemplate handles GET /v1/templates/{id}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template ID", "ID must be a valid UUID")
		return
	}

	tpl, err := h.templates.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrTemplateNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
			return
		}
		h.logger.Error("failed to get template", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get template", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tpl)
}

// UpdateTemplate handles PUT /v1/templates/{id}
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template ID", "ID must be a valid UUID")
		return
	}

	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	category, problem := req.validate()
	if problem != "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template", problem)
		return
	}

	tpl := &db.Template{
		ID:       id,
		Name:     req.Name,
		Category: category,
		IsActive: req.IsActive,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}

	if err := h.templates.Update(ctx, tpl); err != nil {
		switch {
		case errors.Is(err, db.ErrTemplateNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		case errors.Is(err, db.ErrActiveTemplateExists):
			h.writeError(w, http.StatusConflict, "active_template_exists",
				"An active template already exists for this category", "")
		default:
			h.logger.Error("failed to update template", zap.Error(err), zap.String("id", id.String()))
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update template", "")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tpl)
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.ledger.GetStats(ctx)
	if err != nil {
		h.logger.Error("failed to get ledger stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get stats", "")
		return
	}

	upcoming, err := h.sender.CountDue(ctx)
	if err != nil {
		// Stats remain useful without the source; report what we have.
		h.logger.Warn("failed to count upcoming appointments", zap.Error(err))
		upcoming = -1
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"total_reminders":       stats.Total,
		"sent_reminders":        stats.Sent,
		"claimed_reminders":     stats.Claimed,
		"recent_reminders_24h":  stats.Last24Hours,
		"by_category":           stats.ByCategory,
		"success_rate":          stats.SuccessRate,
		"upcoming_appointments": upcoming,
	})
}

// SendTestEmail handles POST /v1/test-email
func (h *Handler) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.mailer.SendTest(r.Context(), h.testRecipient); err != nil {
		h.logger.Error("test email failed", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "dispatch_error", "Failed to send test email", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"message":   "Test email sent",
		"recipient": h.testRecipient,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
