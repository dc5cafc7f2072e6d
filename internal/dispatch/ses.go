package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESGateway sends email through AWS SES.
type SESGateway struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// SESConfig holds SES gateway settings.
type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESGateway creates a gateway using the default AWS credential chain.
func NewSESGateway(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESGateway, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESGateway{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send implements EmailGateway. Failures come back as *DispatchError
// with the transient/permanent split derived from the SES error type.
func (g *SESGateway) Send(ctx context.Context, email *Email) error {
	if email.To == "" {
		return &DispatchError{Transient: false, Err: errors.New("missing recipient")}
	}

	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(email.Text),
			Charset: aws.String("UTF-8"),
		},
	}
	if email.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(email.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(g.from),
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(email.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		return &DispatchError{Transient: isTransientSES(err), Err: err}
	}

	g.logger.Info("email sent via SES",
		zap.String("to", email.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}

// isTransientSES classifies SES failures. Rejected messages and
// unverified sender domains will fail the same way on any retry;
// everything else (throttling, network, service errors) may recover.
func isTransientSES(err error) bool {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return false
	}
	var unverified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &unverified) {
		return false
	}
	var noConfigSet *types.ConfigurationSetDoesNotExistException
	if errors.As(err, &noConfigSet) {
		return false
	}
	return true
}
