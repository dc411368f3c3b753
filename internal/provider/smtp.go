package provider

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/mail"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// SMTPMailer is the local-SMTP fallback adapter. A batch is one SMTP dial
// with every message sent on the open connection. There is no vendor webhook
// protocol: bounces surface only through the other providers or manual
// suppression.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string

	// dial is swappable for tests.
	dial func() (gomail.SendCloser, error)
}

// NewSMTPMailer creates an SMTP adapter from explicit config.
func NewSMTPMailer(cfg config.MailerConfig) *SMTPMailer {
	m := &SMTPMailer{
		host:     cfg.SMTP.Host,
		port:     cfg.SMTP.Port,
		username: cfg.SMTP.Username,
		password: cfg.SMTP.Password,
	}
	m.dial = func() (gomail.SendCloser, error) {
		return gomail.NewDialer(m.host, m.port, m.username, m.password).Dial()
	}
	return m
}

// Name identifies the vendor.
func (s *SMTPMailer) Name() domain.ProviderType { return domain.ProviderSMTP }

// SendBatch dials once and relays each message. Individual relay failures
// mark only that recipient failed; a failed dial fails the whole batch in
// the result (transport to localhost is still not an adapter error).
func (s *SMTPMailer) SendBatch(ctx context.Context, messages []domain.EmailMessage) (*domain.SendResult, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("smtp: empty batch")
	}

	sender, err := s.dial()
	if err != nil {
		log.Printf("[SMTP] dial %s:%d failed: %v", s.host, s.port, err)
		return failAll(messages, fmt.Sprintf("smtp dial: %v", err)), nil
	}
	defer sender.Close()

	result := &domain.SendResult{
		MessageIDs:    make(map[string]string, len(messages)),
		FailedReasons: map[string]string{},
	}

	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			result.FailedCount++
			result.FailedReasons[msg.Email] = err.Error()
			continue
		}

		gm := gomail.NewMessage()
		gm.SetAddressHeader("From", msg.FromEmail, msg.FromName)
		gm.SetHeader("To", msg.Email)
		gm.SetHeader("Subject", msg.Subject)
		if msg.ReplyTo != "" {
			gm.SetHeader("Reply-To", msg.ReplyTo)
		}
		messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), s.host)
		gm.SetHeader("Message-ID", messageID)
		gm.SetHeader("X-Campaign-ID", msg.CampaignID)
		for k, v := range msg.Headers {
			gm.SetHeader(k, v)
		}
		if msg.TextContent != "" {
			gm.SetBody("text/plain", msg.TextContent)
			gm.AddAlternative("text/html", msg.HTMLContent)
		} else {
			gm.SetBody("text/html", msg.HTMLContent)
		}

		if err := gomail.Send(sender, gm); err != nil {
			result.FailedCount++
			result.FailedReasons[msg.Email] = err.Error()
			continue
		}
		result.AcceptedCount++
		result.MessageIDs[msg.Email] = messageID
	}

	log.Printf("[SMTP] batch done: %d accepted, %d failed", result.AcceptedCount, result.FailedCount)
	return result, nil
}

// ValidateFromAddress is a syntactic check only; a local relay accepts any
// well-formed sender.
func (s *SMTPMailer) ValidateFromAddress(_ context.Context, address string) (bool, error) {
	_, err := mail.ParseAddress(address)
	return err == nil, nil
}

// ParseWebhook always returns an empty result: plain SMTP has no delivery
// event callbacks.
func (s *SMTPMailer) ParseWebhook(*http.Request) (*domain.WebhookResult, error) {
	return &domain.WebhookResult{}, nil
}

// SyncSuppressions is a no-op: there is no vendor-side block list.
func (s *SMTPMailer) SyncSuppressions(context.Context, []string, domain.SuppressionReason) error {
	return nil
}
