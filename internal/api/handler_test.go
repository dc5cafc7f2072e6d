package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/db"
	"github.com/smartqueue/reminderd/internal/source"
)

var errDatabase = errors.New("database error")

// mockLedger is a fake read-only ledger.
type mockLedger struct {
	records    map[string]*db.DeliveryRecord
	stats      *db.Stats
	shouldFail bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		records: make(map[string]*db.DeliveryRecord),
		stats:   &db.Stats{ByCategory: make(map[string]int64)},
	}
}

func (m *mockLedger) GetByAppointmentID(ctx context.Context, appointmentID string) (*db.DeliveryRecord, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	rec, ok := m.records[appointmentID]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	return rec, nil
}

func (m *mockLedger) List(ctx context.Context, filter db.ListFilter) ([]*db.DeliveryRecord, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	var out []*db.DeliveryRecord
	for _, rec := range m.records {
		if filter.State != nil && rec.State != *filter.State {
			continue
		}
		if filter.Category != nil && rec.Category != *filter.Category {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockLedger) GetStats(ctx context.Context) (*db.Stats, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	return m.stats, nil
}

// mockTemplates is a fake template store.
type mockTemplates struct {
	templates      map[uuid.UUID]*db.Template
	conflictActive bool
	shouldFail     bool
}

func newMockTemplates() *mockTemplates {
	return &mockTemplates{templates: make(map[uuid.UUID]*db.Template)}
}

func (m *mockTemplates) Create(ctx context.Context, t *db.Template) error {
	if m.shouldFail {
		return errDatabase
	}
	if m.conflictActive && t.IsActive {
		return db.ErrActiveTemplateExists
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.templates[t.ID] = t
	return nil
}

func (m *mockTemplates) Get(ctx context.Context, id uuid.UUID) (*db.Template, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	t, ok := m.templates[id]
	if !ok {
		return nil, db.ErrTemplateNotFound
	}
	return t, nil
}

func (m *mockTemplates) List(ctx context.Context) ([]*db.Template, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	var out []*db.Template
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTemplates) Update(ctx context.Context, t *db.Template) error {
	if m.shouldFail {
		return errDatabase
	}
	if _, ok := m.templates[t.ID]; !ok {
		return db.ErrTemplateNotFound
	}
	if m.conflictActive && t.IsActive {
		return db.ErrActiveTemplateExists
	}
	m.templates[t.ID] = t
	return nil
}

// mockSender is a fake send-now entry point.
type mockSender struct {
	sendErr error
	sent    []string
	due     int
	dueErr  error
}

func (m *mockSender) SendNow(ctx context.Context, appointmentID string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, appointmentID)
	return nil
}

func (m *mockSender) CountDue(ctx context.Context) (int, error) {
	return m.due, m.dueErr
}

// mockMailer is a fake test-email path.
type mockMailer struct {
	err        error
	recipients []string
}

func (m *mockMailer) SendTest(ctx context.Context, recipient string) error {
	if m.err != nil {
		return m.err
	}
	m.recipients = append(m.recipients, recipient)
	return nil
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/v1/reminders", h.ListReminders)
	r.Get("/v1/reminders/{appointmentID}", h.GetReminder)
	r.Post("/v1/reminders/{appointmentID}/send", h.SendReminder)
	r.Get("/v1/templates", h.ListTemplates)
	r.Post("/v1/templates", h.CreateTemplate)
	r.Get("/v1/templates/{id}", h.GetTemplate)
	r.Put("/v1/templates/{id}", h.UpdateTemplate)
	r.Get("/v1/stats", h.GetStats)
	r.Post("/v1/test-email", h.SendTestEmail)
	return r
}

func sentRecord(appointmentID string) *db.DeliveryRecord {
	now := time.Now().UTC()
	return &db.DeliveryRecord{
		ID:              uuid.New(),
		AppointmentID:   appointmentID,
		RecipientEmail:  appointmentID + "@example.com",
		AppointmentTime: now.Add(15 * time.Minute),
		Category:        db.Category15Min,
		State:           db.StateSent,
		ClaimedAt:       now,
		SentAt:          &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestListReminders(t *testing.T) {
	ledger := newMockLedger()
	ledger.records["apt-1"] = sentRecord("apt-1")
	claimed := sentRecord("apt-2")
	claimed.State = db.StateClaimed
	claimed.SentAt = nil
	ledger.records["apt-2"] = claimed

	h := NewHandler(zap.NewNop(), ledger, newMockTemplates(), &mockSender{}, &mockMailer{}, "ops@example.com")
	router := newTestRouter(h)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantCount  float64
	}{
		{"all", "/v1/reminders", http.StatusOK, 2},
		{"sent only", "/v1/reminders?state=sent", http.StatusOK, 1},
		{"claimed only", "/v1/reminders?state=claimed", http.StatusOK, 1},
		{"by category", "/v1/reminders?category=15min", http.StatusOK, 2},
		{"invalid state", "/v1/reminders?state=bogus", http.StatusBadRequest, 0},
		{"invalid category", "/v1/reminders?category=2weeks", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["count"].(float64) != tt.wantCount {
				t.Errorf("count = %v, want %v", body["count"], tt.wantCount)
			}
		})
	}
}

func TestGetReminder(t *testing.T) {
	ledger := newMockLedger()
	ledger.records["apt-1"] = sentRecord("apt-1")

	h := NewHandler(zap.NewNop(), ledger, newMockTemplates(), &mockSender{}, &mockMailer{}, "ops@example.com")
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/reminders/apt-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/reminders/apt-unknown", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSendReminder(t *testing.T) {
	tests := []struct {
		name       string
		sendErr    error
		wantStatus int
	}{
		{"success", nil, http.StatusOK},
		{"unknown appointment", source.ErrNotFound, http.StatusNotFound},
		{"already sent", &db.ClaimConflictError{AppointmentID: "apt-1", State: db.StateSent}, http.StatusConflict},
		{"already claimed", &db.ClaimConflictError{AppointmentID: "apt-1", State: db.StateClaimed}, http.StatusConflict},
		{"gateway down", errors.New("dispatch failed"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{sendErr: tt.sendErr}
			h := NewHandler(zap.NewNop(), newMockLedger(), newMockTemplates(), sender, &mockMailer{}, "ops@example.com")
			router := newTestRouter(h)

			req := httptest.NewRequest(http.MethodPost, "/v1/reminders/apt-1/send", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestCreateTemplate(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		conflict   bool
		wantStatus int
	}{
		{
			name: "valid",
			body: TemplateRequest{
				Name: "Custom", Category: "1hour", IsActive: true,
				Subject: "s", BodyText: "b",
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "missing fields",
			body: TemplateRequest{
				Name: "", Category: "1hour", Subject: "s", BodyText: "b",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "bad category",
			body: TemplateRequest{
				Name: "X", Category: "2weeks", Subject: "s", BodyText: "b",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "second active conflicts",
			body: TemplateRequest{
				Name: "Y", Category: "1hour", IsActive: true,
				Subject: "s", BodyText: "b",
			},
			conflict:   true,
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			templates := newMockTemplates()
			templates.conflictActive = tt.conflict
			h := NewHandler(zap.NewNop(), newMockLedger(), templates, &mockSender{}, &mockMailer{}, "ops@example.com")
			router := newTestRouter(h)

			payload, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/v1/templates", bytes.NewReader(payload))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body: %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestUpdateTemplate(t *testing.T) {
	templates := newMockTemplates()
	existing := &db.Template{ID: uuid.New(), Name: "Old", Category: db.Category1Day, Subject: "s", BodyText: "b"}
	templates.templates[existing.ID] = existing

	h := NewHandler(zap.NewNop(), newMockLedger(), templates, &mockSender{}, &mockMailer{}, "ops@example.com")
	router := newTestRouter(h)

	payload, _ := json.Marshal(TemplateRequest{
		Name: "New", Category: "1day", IsActive: false, Subject: "s2", BodyText: "b2",
	})
	req := httptest.NewRequest(http.MethodPut, "/v1/templates/"+existing.ID.String(), bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if templates.templates[existing.ID].Name != "New" {
		t.Errorf("template not updated: %+v", templates.templates[existing.ID])
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/templates/"+uuid.New().String(), bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/templates/not-a-uuid", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	ledger := newMockLedger()
	ledger.stats = &db.Stats{
		Total: 10, Sent: 8, Claimed: 2, Last24Hours: 5,
		ByCategory:  map[string]int64{"15min": 10},
		SuccessRate: 80,
	}
	sender := &mockSender{due: 3}

	h := NewHandler(zap.NewNop(), ledger, newMockTemplates(), sender, &mockMailer{}, "ops@example.com")
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["total_reminders"].(float64) != 10 {
		t.Errorf("total_reminders = %v, want 10", body["total_reminders"])
	}
	if body["upcoming_appointments"].(float64) != 3 {
		t.Errorf("upcoming_appointments = %v, want 3", body["upcoming_appointments"])
	}
}

func TestGetStats_SourceDownStillReturnsLedger(t *testing.T) {
	sender := &mockSender{dueErr: errors.New("source unavailable")}
	h := NewHandler(zap.NewNop(), newMockLedger(), newMockTemplates(), sender, &mockMailer{}, "ops@example.com")
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["upcoming_appointments"].(float64) != -1 {
		t.Errorf("upcoming_appointments = %v, want -1 sentinel", body["upcoming_appointments"])
	}
}

func TestSendTestEmail(t *testing.T) {
	mailer := &mockMailer{}
	h := NewHandler(zap.NewNop(), newMockLedger(), newMockTemplates(), &mockSender{}, mailer, "ops@example.com")
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/test-email", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(mailer.recipients) != 1 || mailer.recipients[0] != "ops@example.com" {
		t.Errorf("unexpected recipients: %v", mailer.recipients)
	}

	mailer.err = errors.New("ses down")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/test-email", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
