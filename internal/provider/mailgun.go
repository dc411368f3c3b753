package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/httpretry"
)

// MailgunMailer sends through the Mailgun Messages API. A batch is one API
// call using recipient-variables for per-recipient metadata.
type MailgunMailer struct {
	apiKey     string
	domain     string
	signingKey string
	baseURL    string
	client     httpretry.HTTPDoer
}

// NewMailgunMailer creates a Mailgun adapter from explicit config.
func NewMailgunMailer(cfg config.MailerConfig, client httpretry.HTTPDoer) *MailgunMailer {
	return &MailgunMailer{
		apiKey:     cfg.APIKey,
		domain:     cfg.Domain,
		signingKey: cfg.WebhookSecret,
		baseURL:    "https://api.mailgun.net/v3",
		client:     client,
	}
}

// Name identifies the vendor.
func (m *MailgunMailer) Name() domain.ProviderType { return domain.ProviderMailgun }

// SendBatch submits all messages in one POST /v3/{domain}/messages call.
// Mailgun answers {id}; per-recipient message IDs are derived from it. The
// first message supplies the shared body, recipient-variables carry the
// per-recipient metadata.
func (m *MailgunMailer) SendBatch(ctx context.Context, messages []domain.EmailMessage) (*domain.SendResult, error) {
	if m.apiKey == "" {
		return nil, fmt.Errorf("mailgun: API key not configured")
	}
	if m.domain == "" {
		return nil, fmt.Errorf("mailgun: sending domain not configured")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("mailgun: empty batch")
	}

	recipients := make([]string, len(messages))
	recipientVars := make(map[string]map[string]string, len(messages))
	for i, msg := range messages {
		recipients[i] = msg.Email
		vars := map[string]string{
			"campaign_id":   msg.CampaignID,
			"subscriber_id": msg.SubscriberID,
		}
		for k, v := range msg.Metadata {
			vars[k] = v
		}
		recipientVars[msg.Email] = vars
	}
	varsJSON, err := json.Marshal(recipientVars)
	if err != nil {
		return nil, fmt.Errorf("mailgun: marshal recipient-variables: %w", err)
	}

	tpl := messages[0]
	form := url.Values{}
	form.Add("from", fmt.Sprintf("%s <%s>", tpl.FromName, tpl.FromEmail))
	form.Add("to", strings.Join(recipients, ","))
	form.Add("subject", tpl.Subject)
	form.Add("html", tpl.HTMLContent)
	form.Add("recipient-variables", string(varsJSON))
	if tpl.TextContent != "" {
		form.Add("text", tpl.TextContent)
	}
	if tpl.ReplyTo != "" {
		form.Add("h:Reply-To", tpl.ReplyTo)
	}
	for k, v := range tpl.Headers {
		form.Add("h:"+k, v)
	}
	form.Add("v:campaign_id", tpl.CampaignID)
	form.Add("v:list_id", tpl.ListID)

	endpoint := fmt.Sprintf("%s/%s/messages", m.baseURL, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("mailgun: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailgun: send batch: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		log.Printf("[Mailgun] batch rejected: %d %s", resp.StatusCode, string(respBody))
		return failAll(messages, fmt.Sprintf("mailgun error %d", resp.StatusCode)), nil
	}

	var mgResp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &mgResp); err != nil {
		log.Printf("[Mailgun] unparseable accept response, generating batch id: %v", err)
	}
	txnID := strings.Trim(mgResp.ID, "<>")
	if txnID == "" {
		txnID = uuid.New().String()
	}

	result := &domain.SendResult{
		AcceptedCount: len(messages),
		MessageIDs:    make(map[string]string, len(messages)),
	}
	for _, msg := range messages {
		result.MessageIDs[msg.Email] = fmt.Sprintf("%s-%s", txnID, msg.SubscriberID)
	}
	log.Printf("[Mailgun] batch of %d accepted (id: %s)", len(messages), txnID)
	return result, nil
}

// ValidateFromAddress requires the configured sending domain to be active and
// the address to belong to it.
func (m *MailgunMailer) ValidateFromAddress(ctx context.Context, address string) (bool, error) {
	if m.apiKey == "" || m.domain == "" {
		return false, fmt.Errorf("mailgun: API key or domain not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/domains/%s", m.baseURL, m.domain), nil)
	if err != nil {
		return false, fmt.Errorf("mailgun: create request: %w", err)
	}
	req.SetBasicAuth("api", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("mailgun: get domain: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("mailgun: get domain returned %d", resp.StatusCode)
	}

	var out struct {
		Domain struct {
			State string `json:"state"`
		} `json:"domain"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("mailgun: decode domain: %w", err)
	}
	if out.Domain.State != "active" {
		return false, nil
	}
	addr := domain.NormalizeEmail(address)
	return strings.HasSuffix(addr, "@"+m.domain) || strings.HasSuffix(addr, "."+m.domain), nil
}

// mailgunWebhook is the signed webhook envelope: one event per delivery.
type mailgunWebhook struct {
	Signature struct {
		Timestamp string `json:"timestamp"`
		Token     string `json:"token"`
		Signature string `json:"signature"`
	} `json:"signature"`
	EventData struct {
		Event     string `json:"event"`
		Severity  string `json:"severity"`
		Recipient string `json:"recipient"`
		UserVars  struct {
			CampaignID string `json:"campaign_id"`
			ListID     string `json:"list_id"`
		} `json:"user-variables"`
	} `json:"event-data"`
}

// ParseWebhook verifies HMAC-SHA256(timestamp+token, signing key) in constant
// time before trusting event-data. Without a configured signing key nothing
// can be verified, so everything is rejected.
func (m *MailgunMailer) ParseWebhook(r *http.Request) (*domain.WebhookResult, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("mailgun: read webhook body: %w", err)
	}

	var hook mailgunWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		log.Printf("[Mailgun] webhook payload not parseable: %v", err)
		return &domain.WebhookResult{}, nil
	}

	if !m.verifySignature(hook.Signature.Timestamp, hook.Signature.Token, hook.Signature.Signature) {
		log.Printf("[Mailgun] webhook signature verification failed")
		return &domain.WebhookResult{}, nil
	}

	result := &domain.WebhookResult{}
	ev := hook.EventData
	if ev.Recipient == "" {
		return result, nil
	}
	e := domain.WebhookEvent{
		Email:      domain.NormalizeEmail(ev.Recipient),
		CampaignID: ev.UserVars.CampaignID,
		ListID:     ev.UserVars.ListID,
	}
	switch ev.Event {
	case "bounced":
		result.Bounces = append(result.Bounces, e)
	case "failed":
		// Only permanent failures are bounces; temporary ones retry.
		if ev.Severity == "permanent" {
			result.Bounces = append(result.Bounces, e)
		}
	case "complained":
		result.Complaints = append(result.Complaints, e)
	case "unsubscribed":
		e.UnsubscribeAll = ev.UserVars.ListID == ""
		result.Unsubscribes = append(result.Unsubscribes, e)
	}
	return result, nil
}

func (m *MailgunMailer) verifySignature(timestamp, token, signature string) bool {
	if m.signingKey == "" || timestamp == "" || token == "" || signature == "" {
		return false
	}
	h := hmac.New(sha256.New, []byte(m.signingKey))
	h.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SyncSuppressions pushes the addresses onto the domain's bounce or
// complaint list.
func (m *MailgunMailer) SyncSuppressions(ctx context.Context, emails []string, reason domain.SuppressionReason) error {
	if m.apiKey == "" || m.domain == "" || len(emails) == 0 {
		return nil
	}

	list := "bounces"
	if reason == domain.ReasonComplaint {
		list = "complaints"
	}

	entries := make([]map[string]string, len(emails))
	for i, e := range emails {
		entries[i] = map[string]string{"address": e}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("mailgun: marshal suppressions: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", m.baseURL, m.domain, list)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailgun: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("api", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun: sync suppressions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mailgun: sync suppressions returned %d: %s", resp.StatusCode, string(respBody))
	}
	log.Printf("[Mailgun] synced %d addresses to %s list", len(emails), list)
	return nil
}
