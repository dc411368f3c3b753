package provider

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/httpretry"
)

// Signed event webhook headers (SendGrid is a Twilio product).
const (
	sendgridSignatureHeader = "X-Twilio-Email-Event-Webhook-Signature"
	sendgridTimestampHeader = "X-Twilio-Email-Event-Webhook-Timestamp"
)

// SendGridMailer sends through the SendGrid v3 Mail Send API. A batch is one
// API call carrying one personalization per recipient.
type SendGridMailer struct {
	apiKey    string
	publicKey string
	baseURL   string
	client    httpretry.HTTPDoer
}

// NewSendGridMailer creates a SendGrid adapter from explicit config.
func NewSendGridMailer(cfg config.MailerConfig, client httpretry.HTTPDoer) *SendGridMailer {
	return &SendGridMailer{
		apiKey:    cfg.APIKey,
		publicKey: cfg.WebhookPublicKey,
		baseURL:   "https://api.sendgrid.com/v3",
		client:    client,
	}
}

// Name identifies the vendor.
func (s *SendGridMailer) Name() domain.ProviderType { return domain.ProviderSendGrid }

// SendBatch submits all messages in a single /mail/send call. SendGrid
// returns 202 with an X-Message-Id header covering the whole transmission;
// per-recipient IDs are derived from it. Content is taken from the first
// message (one campaign, one template); per-recipient subject and metadata
// ride on each personalization.
func (s *SendGridMailer) SendBatch(ctx context.Context, messages []domain.EmailMessage) (*domain.SendResult, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("sendgrid: API key not configured")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("sendgrid: empty batch")
	}

	personalizations := make([]map[string]any, len(messages))
	for i, msg := range messages {
		args := map[string]string{
			"campaign_id":   msg.CampaignID,
			"subscriber_id": msg.SubscriberID,
		}
		for k, v := range msg.Metadata {
			args[k] = v
		}
		p := map[string]any{
			"to":          []map[string]string{{"email": msg.Email}},
			"subject":     msg.Subject,
			"custom_args": args,
		}
		if len(msg.Headers) > 0 {
			p["headers"] = msg.Headers
		}
		personalizations[i] = p
	}

	tpl := messages[0]
	content := []map[string]string{}
	if tpl.TextContent != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": tpl.TextContent})
	}
	content = append(content, map[string]string{"type": "text/html", "value": tpl.HTMLContent})

	payload := map[string]any{
		"personalizations": personalizations,
		"from":             map[string]string{"email": tpl.FromEmail, "name": tpl.FromName},
		"subject":          tpl.Subject,
		"content":          content,
	}
	if tpl.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": tpl.ReplyTo}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sendgrid: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sendgrid: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid: send batch: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		log.Printf("[SendGrid] batch rejected: %d %s", resp.StatusCode, string(respBody))
		return failAll(messages, fmt.Sprintf("sendgrid error %d", resp.StatusCode)), nil
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	result := &domain.SendResult{
		AcceptedCount: len(messages),
		MessageIDs:    make(map[string]string, len(messages)),
	}
	for i, msg := range messages {
		result.MessageIDs[msg.Email] = fmt.Sprintf("%s-%d", messageID, i)
	}
	log.Printf("[SendGrid] batch of %d accepted (id: %s)", len(messages), messageID)
	return result, nil
}

// ValidateFromAddress checks the address against the account's verified
// sender list.
func (s *SendGridMailer) ValidateFromAddress(ctx context.Context, address string) (bool, error) {
	if s.apiKey == "" {
		return false, fmt.Errorf("sendgrid: API key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/verified_senders", nil)
	if err != nil {
		return false, fmt.Errorf("sendgrid: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sendgrid: verified senders: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("sendgrid: verified senders returned %d", resp.StatusCode)
	}

	var out struct {
		Results []struct {
			FromEmail string `json:"from_email"`
			Verified  bool   `json:"verified"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("sendgrid: decode verified senders: %w", err)
	}

	want := domain.NormalizeEmail(address)
	for _, r := range out.Results {
		if domain.NormalizeEmail(r.FromEmail) == want && r.Verified {
			return true, nil
		}
	}
	return false, nil
}

// sendgridEvent is one entry of the event webhook payload. Custom args set at
// send time come back flattened onto the event object.
type sendgridEvent struct {
	Email       string `json:"email"`
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	CampaignID  string `json:"campaign_id"`
	ListID      string `json:"list_id"`
}

// ParseWebhook verifies the ECDSA signature over timestamp||body and
// normalizes the event array. A missing or unparseable configured public key
// means verification is skipped (logged) so that ingestion keeps working in
// environments without the key; a configured key with a bad signature yields
// an empty result.
func (s *SendGridMailer) ParseWebhook(r *http.Request) (*domain.WebhookResult, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("sendgrid: read webhook body: %w", err)
	}

	if key := s.parsePublicKey(); key != nil {
		sig := r.Header.Get(sendgridSignatureHeader)
		ts := r.Header.Get(sendgridTimestampHeader)
		if !verifySendGridSignature(key, sig, ts, body) {
			log.Printf("[SendGrid] webhook signature verification failed, discarding %d bytes", len(body))
			return &domain.WebhookResult{}, nil
		}
	}

	var events []sendgridEvent
	if err := json.Unmarshal(body, &events); err != nil {
		log.Printf("[SendGrid] webhook payload not parseable: %v", err)
		return &domain.WebhookResult{}, nil
	}

	result := &domain.WebhookResult{}
	for _, ev := range events {
		if ev.Email == "" {
			continue
		}
		e := domain.WebhookEvent{
			Email:      domain.NormalizeEmail(ev.Email),
			CampaignID: ev.CampaignID,
			ListID:     ev.ListID,
		}
		switch ev.Event {
		case "bounce", "dropped":
			result.Bounces = append(result.Bounces, e)
		case "spamreport":
			result.Complaints = append(result.Complaints, e)
		case "unsubscribe", "group_unsubscribe":
			e.UnsubscribeAll = ev.ListID == ""
			result.Unsubscribes = append(result.Unsubscribes, e)
		}
	}
	return result, nil
}

func (s *SendGridMailer) parsePublicKey() *ecdsa.PublicKey {
	if s.publicKey == "" {
		log.Printf("[SendGrid] no webhook public key configured, skipping verification")
		return nil
	}
	der, err := base64.StdEncoding.DecodeString(s.publicKey)
	if err != nil {
		log.Printf("[SendGrid] webhook public key is not valid base64, skipping verification: %v", err)
		return nil
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		log.Printf("[SendGrid] webhook public key is not valid DER, skipping verification: %v", err)
		return nil
	}
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		log.Printf("[SendGrid] webhook public key is not ECDSA, skipping verification")
		return nil
	}
	return key
}

func verifySendGridSignature(key *ecdsa.PublicKey, signature, timestamp string, body []byte) bool {
	if signature == "" || timestamp == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append([]byte(timestamp), body...))
	return ecdsa.VerifyASN1(key, digest[:], sig)
}

// SyncSuppressions adds the addresses to the account's global suppression
// group.
func (s *SendGridMailer) SyncSuppressions(ctx context.Context, emails []string, reason domain.SuppressionReason) error {
	if s.apiKey == "" || len(emails) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string][]string{"recipient_emails": emails})
	if err != nil {
		return fmt.Errorf("sendgrid: marshal suppressions: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/asm/suppressions/global", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sendgrid: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid: sync suppressions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sendgrid: sync suppressions returned %d: %s", resp.StatusCode, string(respBody))
	}
	log.Printf("[SendGrid] synced %d %s suppressions", len(emails), reason)
	return nil
}
