package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/custodia/pkg/logger"
)

// SecurityNotifier tells a user that their account security settings changed
type SecurityNotifier interface {
	NotifyTwoFactorChanged(ctx context.Context, email string, enabled bool) error
}

// NoopNotifier drops every notification
type NoopNotifier struct{}

func (NoopNotifier) NotifyTwoFactorChanged(ctx context.Context, email string, enabled bool) error {
	return nil
}

// SESAPI is the subset of the SES client used for notifications
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends security notifications through AWS SES
type SESNotifier struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS config for region and builds an SES client
func NewSESNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESNotifierWithClient wraps an existing SES client
func NewSESNotifierWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// NotifyTwoFactorChanged emails the account owner after 2FA is enabled or disabled
func (n *SESNotifier) NotifyTwoFactorChanged(ctx context.Context, email string, enabled bool) error {
	subject, body := twoFactorChangeMessage(enabled)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("security notification sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", messageID))

	return nil
}

func twoFactorChangeMessage(enabled bool) (subject, body string) {
	if enabled {
		return "Two-factor authentication enabled",
			`Two-factor authentication was just turned on for your wallet account.

From now on, signing in requires a code from your authenticator app or one of your backup codes.
Store your backup codes somewhere safe. Each one works only once.

If you did not make this change, contact support immediately.
`
	}
	return "Two-factor authentication disabled",
		`Two-factor authentication was just turned off for your wallet account.

Your authenticator secret and all remaining backup codes have been deleted.
Signing in now requires only your password.

If you did not make this change, contact support immediately and change your password.
`
}
