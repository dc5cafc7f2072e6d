// Package dispatch renders reminder emails and hands them to an email
// gateway. Rendering fails closed: any placeholder the context cannot
// resolve aborts the attempt instead of sending a partial email.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Email is a fully rendered message ready for the gateway.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailGateway delivers a rendered email. Implementations: SES for
// production, LogGateway for development.
type EmailGateway interface {
	Send(ctx context.Context, email *Email) error
}

// DispatchError is a gateway failure. Transient failures (throttling,
// timeouts, open circuit) are distinguished from permanent ones
// (rejected address) so a retry policy could treat them differently;
// this design does not itself retry either kind.
type DispatchError struct {
	Transient bool
	Err       error
}

func (e *DispatchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("dispatch failed (%s): %v", kind, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsTransientDispatch reports whether err is a transient DispatchError.
func IsTransientDispatch(err error) bool {
	var de *DispatchError
	if !errors.As(err, &de) {
		return false
	}
	return de.Transient
}

// LogGateway logs instead of sending. Used in development and tests.
type LogGateway struct {
	logger *zap.Logger
}

// NewLogGateway creates a gateway that only logs.
func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// Send implements EmailGateway.
func (g *LogGateway) Send(ctx context.Context, email *Email) error {
	g.logger.Info("email logged (development mode)",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.Int("text_bytes", len(email.Text)),
		zap.Int("html_bytes", len(email.HTML)),
	)
	return nil
}
