package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/dispatch"
)

// ProtectedGateway wraps an email gateway with a CircuitBreaker. When
// the gateway is down, claims fail fast with a transient DispatchError
// instead of each scan worker waiting on a dead SES endpoint.
type ProtectedGateway struct {
	gateway dispatch.EmailGateway
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedGateway wraps a gateway with circuit breaker protection.
func NewProtectedGateway(gateway dispatch.EmailGateway, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedGateway {
	return &ProtectedGateway{
		gateway: gateway,
		breaker: breaker,
		logger:  logger,
	}
}

// Send implements dispatch.EmailGateway. An open circuit is a transient
// dispatch failure: the claim is abandoned exactly like any other
// failed send.
func (p *ProtectedGateway) Send(ctx context.Context, email *dispatch.Email) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("recipient", email.To),
			zap.String("state", p.breaker.GetState().String()),
		)
		return &dispatch.DispatchError{Transient: true, Err: ErrCircuitOpen}
	}

	err := p.gateway.Send(ctx, email)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedGateway) Breaker() *CircuitBreaker {
	return p.breaker
}
