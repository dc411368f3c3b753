// Package provider contains the email provider adapters and their shared
// contract. One adapter exists per vendor:
//
//   - sendgrid.go: SendGrid v3 Mail Send (batch = one API call, N personalizations)
//   - mailgun.go:  Mailgun Messages API (batch = one API call, recipient-variables)
//   - mandrill.go: Mailchimp Transactional / Mandrill (batch = N API calls)
//   - smtp.go:     local SMTP fallback via gomail (batch = N sends on one dial)
//
// Adapters are constructed from an explicit config.MailerConfig; they never
// read ambient configuration. Vendor-level failures (HTTP 4xx/5xx) are
// reported inside SendResult with a nil error — the error return is reserved
// for transport and encoding faults.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/httpretry"
)

// Mailer is the uniform contract every vendor adapter implements.
type Mailer interface {
	// Name identifies the vendor.
	Name() domain.ProviderType

	// SendBatch submits one logical batch of fully-rendered messages. The
	// input must be non-empty. Every input recipient ends up represented in
	// the result: accepted addresses appear in MessageIDs, the remainder is
	// counted in FailedCount. A non-nil error means nothing was attempted.
	SendBatch(ctx context.Context, messages []domain.EmailMessage) (*domain.SendResult, error)

	// ValidateFromAddress is a synchronous best-effort pre-flight check that
	// the vendor will accept the given from address.
	ValidateFromAddress(ctx context.Context, address string) (bool, error)

	// ParseWebhook verifies the authenticity of an inbound vendor callback
	// and normalizes its events. Verification failures yield an empty result
	// and a nil error (fail closed); individual malformed events are skipped.
	ParseWebhook(r *http.Request) (*domain.WebhookResult, error)

	// SyncSuppressions pushes local suppression additions to the vendor's own
	// block list. Best-effort: callers treat errors as non-fatal.
	SyncSuppressions(ctx context.Context, emails []string, reason domain.SuppressionReason) error
}

// New selects and constructs the adapter named by cfg.Provider.
func New(cfg config.MailerConfig) (Mailer, error) {
	client := httpretry.New(
		&http.Client{Timeout: 60 * time.Second},
		cfg.RetryAttempts,
		cfg.RetryBackoff(),
	)

	switch domain.ProviderType(cfg.Provider) {
	case domain.ProviderSendGrid:
		return NewSendGridMailer(cfg, client), nil
	case domain.ProviderMailgun:
		return NewMailgunMailer(cfg, client), nil
	case domain.ProviderMandrill:
		return NewMandrillMailer(cfg, client), nil
	case domain.ProviderSMTP:
		return NewSMTPMailer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// failAll marks every message in the batch failed with the same reason.
// Used when a vendor rejects the whole batch call.
func failAll(messages []domain.EmailMessage, reason string) *domain.SendResult {
	res := &domain.SendResult{
		FailedCount:   len(messages),
		MessageIDs:    map[string]string{},
		FailedReasons: make(map[string]string, len(messages)),
	}
	for _, m := range messages {
		res.FailedReasons[m.Email] = reason
	}
	return res
}
