package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"gopkg.in/gomail.v2"

	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
)

const codeEmailSubject = "Safe-Crypt Admin Verification Code"

// codeEmail renders the plain text and HTML bodies of a code email
func codeEmail(code string, expiresAt, now time.Time) (text, html string) {
	minutes := int(math.Ceil(expiresAt.Sub(now).Minutes()))
	if minutes < 1 {
		minutes = 1
	}

	text = fmt.Sprintf("Your verification code is: %s\n\nThis code will expire in %d minutes.\n", code, minutes)
	html = fmt.Sprintf(`<div style="padding: 20px; background-color: #f5f5f5;">
  <h2 style="color: #333;">Safe-Crypt Admin Verification</h2>
  <p>Your verification code is:</p>
  <h1 style="color: #4CAF50; font-size: 32px;">%s</h1>
  <p>This code will expire in %d minutes.</p>
</div>`, code, minutes)
	return text, html
}

// SESAPI is the subset of the SES client used to send codes
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESCodeSender sends codes using AWS SES
type SESCodeSender struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
	now         func() time.Time
}

// NewSESCodeSender loads the default AWS config for region and creates a sender
func NewSESCodeSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESCodeSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESCodeSenderWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESCodeSenderWithClient creates a sender around an existing client
func NewSESCodeSenderWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESCodeSender {
	return &SESCodeSender{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *SESCodeSender) SendCode(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	textBody, htmlBody := codeEmail(code, expiresAt, s.now())

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{identifier},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(codeEmailSubject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification code sent",
		slog.String("email", pkglogger.SanitizedEmail(identifier)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// SMTPDialer is the subset of gomail.Dialer used to send codes
type SMTPDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPConfig holds the relay settings for SMTPCodeSender
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPCodeSender sends codes through an SMTP relay
type SMTPCodeSender struct {
	dialer SMTPDialer
	from   string
	logger *slog.Logger
	now    func() time.Time
}

// NewSMTPCodeSender creates a sender that dials the relay for every message
func NewSMTPCodeSender(cfg SMTPConfig, from string, logger *slog.Logger) *SMTPCodeSender {
	return NewSMTPCodeSenderWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), from, logger)
}

// NewSMTPCodeSenderWithDialer creates a sender around an existing dialer
func NewSMTPCodeSenderWithDialer(dialer SMTPDialer, from string, logger *slog.Logger) *SMTPCodeSender {
	return &SMTPCodeSender{
		dialer: dialer,
		from:   from,
		logger: logger,
		now:    time.Now,
	}
}

func (s *SMTPCodeSender) SendCode(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	textBody, htmlBody := codeEmail(code, expiresAt, s.now())

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", identifier)
	msg.SetHeader("Subject", codeEmailSubject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	// gomail has no context support; honor cancellation from a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}

	s.logger.Info("verification code sent",
		slog.String("email", pkglogger.SanitizedEmail(identifier)))

	return nil
}
