package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/greenbasket/gatehouse/internal/config"
	"github.com/greenbasket/gatehouse/pkg/logger"
)

// EmailSender defines the outbound notification channel. Handlers only call
// it after a positive security decision.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// AWSSESEmailService sends transactional email using AWS SES
type AWSSESEmailService struct {
	sesClient *ses.Client
	cfg       config.EmailConfig
	logger    *slog.Logger
}

func NewAWSSESEmailService(cfg config.EmailConfig, log *slog.Logger) (*AWSSESEmailService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient: ses.NewFromConfig(awsCfg),
		cfg:       cfg,
		logger:    log,
	}, nil
}

// SendVerificationEmail delivers the email-confirmation link for a new
// GreenBasket account.
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.VerificationURLBase, token)
	hours := int(time.Until(expiresAt).Round(time.Hour).Hours())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #2d3a2e; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #eef6ee; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .button { display: inline-block; background-color: #2e7d32; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Confirm your GreenBasket account</h1>
        </div>
        <div class="content">
            <p>Thanks for signing up for GreenBasket grocery delivery.</p>
            <p>Please confirm your email address so we can send you order updates and delivery notifications:</p>
            <p><a href="%s" class="button">Confirm Email Address</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>%s</code></p>
            <p>This link expires in %d hours.</p>
            <p>If you didn't create a GreenBasket account, you can ignore this email.</p>
        </div>
        <div class="footer">
            <p>This is an automated message from GreenBasket. Please do not reply.</p>
        </div>
    </div>
</body>
</html>
`, link, link, hours)

	textBody := fmt.Sprintf(`Confirm your GreenBasket account

Thanks for signing up for GreenBasket grocery delivery. Please confirm your
email address by opening the link below:

%s

This link expires in %d hours.

If you didn't create a GreenBasket account, you can ignore this email.
`, link, hours)

	return s.send(ctx, email, "Confirm your GreenBasket account", htmlBody, textBody)
}

// SendPasswordResetEmail delivers the single-use password reset link.
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.PasswordResetURLBase, token)
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #2d3a2e; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #eef6ee; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .button { display: inline-block; background-color: #2e7d32; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Reset your GreenBasket password</h1>
        </div>
        <div class="content">
            <p>We received a request to reset the password for your GreenBasket account.</p>
            <p><a href="%s" class="button">Reset Password</a></p>
            <p>Or copy and paste this link in your browser:<br>
            <code>%s</code></p>
            <p>This link expires in %d minutes and can be used once.</p>
            <p>If you didn't request a password reset, no action is needed. Your password will not change.</p>
        </div>
        <div class="footer">
            <p>This is an automated message from GreenBasket. Please do not reply.</p>
        </div>
    </div>
</body>
</html>
`, link, link, minutes)

	textBody := fmt.Sprintf(`Reset your GreenBasket password

We received a request to reset the password for your GreenBasket account.
Open the link below to choose a new password:

%s

This link expires in %d minutes and can be used once.

If you didn't request a password reset, no action is needed.
`, link, minutes)

	return s.send(ctx, email, "Reset your GreenBasket password", htmlBody, textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.cfg.FromAddress),
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

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("subject", subject),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
