package services

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	pkglogger "github.com/genesisplatform/auth-api/pkg/logger"
)

// Mailer is the outbound mail collaborator. The auth core treats sends as
// best-effort except where an operation specifies rollback on failure.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, rawToken string) error
	SendPasswordResetEmail(ctx context.Context, email, rawToken string) error
}

// SESMailer sends transactional mail through AWS SES.
type SESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

func NewSESMailer(region, fromAddress, baseURL string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendVerificationEmail mails the raw verification token as a link. The raw
// token appears only here and in the client's inbox; the store keeps a hash.
func (m *SESMailer) SendVerificationEmail(ctx context.Context, email, rawToken string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", m.baseURL, rawToken)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>Verify Your Email Address</h1>
    <p>Welcome! To complete your registration, please verify your email address:</p>
    <p><a href="%s" style="display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px;">Verify Email Address</a></p>
    <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
    <p>This link will expire in 24 hours.</p>
    <p>If you didn't create this account, you can ignore this email.</p>
  </div>
</body>
</html>
`, link, link)

	textBody := fmt.Sprintf(`Verify Your Email Address

Welcome! To complete your registration, please verify your email address by opening the link below:

%s

This link will expire in 24 hours.

If you didn't create this account, you can ignore this email.
`, link)

	return m.send(ctx, email, "Verify your email address", htmlBody, textBody)
}

// SendPasswordResetEmail mails the raw reset token as a link.
func (m *SESMailer) SendPasswordResetEmail(ctx context.Context, email, rawToken string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", m.baseURL, rawToken)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>Reset Your Password</h1>
    <p>We received a request to reset your password. Click the link below to choose a new one:</p>
    <p><a href="%s" style="display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px;">Reset Password</a></p>
    <p>Or copy and paste this link in your browser:<br><code>%s</code></p>
    <p>This link will expire in 1 hour.</p>
    <p>If you didn't request a password reset, you can ignore this email. Your password will not change.</p>
  </div>
</body>
</html>
`, link, link)

	textBody := fmt.Sprintf(`Reset Your Password

We received a request to reset your password. Open the link below to choose a new one:

%s

This link will expire in 1 hour.

If you didn't request a password reset, you can ignore this email. Your password will not change.
`, link)

	return m.send(ctx, email, "Reset your password", htmlBody, textBody)
}

func (m *SESMailer) send(ctx context.Context, email, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := m.sesClient.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
