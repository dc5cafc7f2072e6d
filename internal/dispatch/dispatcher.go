package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/db"
	"github.com/smartqueue/reminderd/internal/metrics"
	"github.com/smartqueue/reminderd/internal/source"
)

// TemplateStore is the slice of the template repository the dispatcher
// needs: the active-template lookup plus the idempotent default install.
type TemplateStore interface {
	GetActive(ctx context.Context, category db.ReminderCategory) (*db.Template, error)
	EnsureDefault(ctx context.Context, t *db.Template) (*db.Template, error)
}

// Dispatcher renders a reminder for an appointment and sends it through
// the email gateway. It does not touch the ledger; the caller owns the
// claim and the finalize.
type Dispatcher struct {
	templates TemplateStore
	src       source.Adapter
	gateway   EmailGateway
	logger    *zap.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(templates TemplateStore, src source.Adapter, gateway EmailGateway, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		templates: templates,
		src:       src,
		gateway:   gateway,
		logger:    logger,
	}
}

// Dispatch renders and sends one reminder. Error taxonomy:
//
//   - *RenderError: template/context mismatch, nothing was sent
//   - *DispatchError: the gateway failed, nothing (or an unknown amount)
//     was delivered; the record must stay claimed
//   - other errors: the context could not be assembled (source store
//     failure), nothing was sent
func (d *Dispatcher) Dispatch(ctx context.Context, snap *source.AppointmentSnapshot, category db.ReminderCategory) error {
	tpl, err := d.resolveTemplate(ctx, category)
	if err != nil {
		return err
	}

	rc, err := d.buildContext(ctx, snap, category)
	if err != nil {
		return err
	}

	rendered, err := Render(tpl, rc)
	if err != nil {
		metrics.RecordRenderFailure(string(category))
		return err
	}

	email := &Email{
		To:      snap.RecipientEmail,
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
	}

	if err := d.gateway.Send(ctx, email); err != nil {
		var de *DispatchError
		if !errors.As(err, &de) {
			// Gateways should classify; treat anything raw as transient.
			err = &DispatchError{Transient: true, Err: err}
		}
		metrics.RecordDispatchFailure(string(category), IsTransientDispatch(err))
		return err
	}

	d.logger.Info("reminder dispatched",
		zap.String("appointment_id", snap.ID),
		zap.String("recipient", snap.RecipientEmail),
		zap.String("category", string(category)),
		zap.String("template", tpl.Name),
	)

	return nil
}

// SendTest pushes a fixed message through the gateway to verify the
// email path end to end.
func (d *Dispatcher) SendTest(ctx context.Context, recipient string) error {
	email := &Email{
		To:      recipient,
		Subject: "Test Email from SmartQueue Reminder Service",
		Text:    "This is a test email to verify the email system is working correctly.",
	}

	if err := d.gateway.Send(ctx, email); err != nil {
		return fmt.Errorf("send test email: %w", err)
	}

	d.logger.Info("test email sent", zap.String("recipient", recipient))
	return nil
}

// resolveTemplate returns the active template for the category, lazily
// installing the built-in default when none is active.
func (d *Dispatcher) resolveTemplate(ctx context.Context, category db.ReminderCategory) (*db.Template, error) {
	tpl, err := d.templates.GetActive(ctx, category)
	if err == nil {
		return tpl, nil
	}
	if !errors.Is(err, db.ErrTemplateNotFound) {
		return nil, fmt.Errorf("resolve template: %w", err)
	}

	d.logger.Warn("no active template, installing default",
		zap.String("category", string(category)),
	)

	tpl, err = d.templates.EnsureDefault(ctx, DefaultTemplate(category))
	if err != nil {
		return nil, fmt.Errorf("install default template: %w", err)
	}
	return tpl, nil
}

// buildContext fetches the related entities and assembles the render
// context. A missing entity fails the render up front: templates
// reference requester/department/service fields, and sending a reminder
// addressed to nobody is worse than not sending one.
func (d *Dispatcher) buildContext(ctx context.Context, snap *source.AppointmentSnapshot, category db.ReminderCategory) (*RenderContext, error) {
	requester, err := d.src.GetRequester(ctx, snap.RequesterID)
	if err != nil {
		return nil, d.contextErr(snap, "requester", err)
	}

	department, err := d.src.GetDepartment(ctx, snap.DepartmentID)
	if err != nil {
		return nil, d.contextErr(snap, "department", err)
	}

	service, err := d.src.GetService(ctx, snap.ServiceID)
	if err != nil {
		return nil, d.contextErr(snap, "service", err)
	}

	return NewRenderContext(snap, requester, department, service, category), nil
}

func (d *Dispatcher) contextErr(snap *source.AppointmentSnapshot, entity string, err error) error {
	if errors.Is(err, source.ErrNotFound) {
		return &RenderError{
			Template: "context",
			Err:      fmt.Errorf("appointment %s references missing %s: %w", snap.ID, entity, err),
		}
	}
	return fmt.Errorf("load %s for appointment %s: %w", entity, snap.ID, err)
}
