package dispatch

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/smartqueue/reminderd/internal/db"
	"github.com/smartqueue/reminderd/internal/source"
)

// RenderError means the template and the context do not agree: a
// referenced placeholder is absent, the template is malformed, or the
// context could not be assembled. The attempt is abandoned, never
// partially sent.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// RenderContext is the complete set of placeholders available to a
// template. Templates reference fields as {{.Requester.FirstName}},
// {{.Department.Name}}, {{.AppointmentDate}} and so on; referencing
// anything not on this struct is a render failure.
type RenderContext struct {
	Requester  source.Requester
	Department source.Department
	Service    source.Service

	AppointmentID   string
	AppointmentDate string // "January 2, 2006"
	AppointmentTime string // "3:04 PM"
	TokenNumber     string
	QueuePosition   string
	Category        string
}

// NewRenderContext assembles the context from a snapshot and its
// related entities.
func NewRenderContext(snap *source.AppointmentSnapshot, requester *source.Requester,
	department *source.Department, service *source.Service, category db.ReminderCategory) *RenderContext {

	rc := &RenderContext{
		AppointmentID:   snap.ID,
		AppointmentDate: snap.ScheduledAt.Format("January 2, 2006"),
		AppointmentTime: snap.ScheduledAt.Format("3:04 PM"),
		TokenNumber:     snap.TokenNumber,
		QueuePosition:   fmt.Sprintf("%d", snap.QueuePosition),
		Category:        string(category),
	}
	if rc.TokenNumber == "" {
		rc.TokenNumber = "N/A"
	}
	if snap.QueuePosition <= 0 {
		rc.QueuePosition = "N/A"
	}
	if requester != nil {
		rc.Requester = *requester
	}
	if department != nil {
		rc.Department = *department
	}
	if service != nil {
		rc.Service = *service
	}
	return rc
}

// Rendered is the output of a successful render.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render executes all three parts of the template against the context.
// text/template reports an execution error for any field reference the
// context does not have, which is exactly the fail-closed behavior the
// pipeline needs.
func Render(tpl *db.Template, rc *RenderContext) (*Rendered, error) {
	subject, err := renderPart(tpl.Name, "subject", tpl.Subject, rc)
	if err != nil {
		return nil, err
	}
	text, err := renderPart(tpl.Name, "body_text", tpl.BodyText, rc)
	if err != nil {
		return nil, err
	}
	html, err := renderPart(tpl.Name, "body_html", tpl.BodyHTML, rc)
	if err != nil {
		return nil, err
	}

	return &Rendered{
		Subject: strings.TrimSpace(subject),
		Text:    text,
		HTML:    html,
	}, nil
}

func renderPart(name, part, text string, rc *RenderContext) (string, error) {
	t, err := template.New(name + ":" + part).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", &RenderError{Template: name, Err: fmt.Errorf("parse %s: %w", part, err)}
	}

	var buf strings.Builder
	if err := t.Execute(&buf, rc); err != nil {
		return "", &RenderError{Template: name, Err: fmt.Errorf("execute %s: %w", part, err)}
	}

	return buf.String(), nil
}

// formatLead is used by the default templates' names.
func formatLead(d time.Duration) string {
	if d >= 24*time.Hour {
		return fmt.Sprintf("%d-Day", int(d.Hours()/24))
	}
	if d >= time.Hour {
		return fmt.Sprintf("%d-Hour", int(d.Hours()))
	}
	return fmt.Sprintf("%d-Minute", int(d.Minutes()))
}
