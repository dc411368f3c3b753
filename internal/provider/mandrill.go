package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/httpretry"
)

const mandrillSignatureHeader = "X-Mandrill-Signature"

// MandrillMailer sends through the Mailchimp Transactional (Mandrill) API.
// The vendor reports per-recipient results, so a logical batch is one
// send.json call per message.
type MandrillMailer struct {
	apiKey     string
	webhookKey string
	webhookURL string
	baseURL    string
	client     httpretry.HTTPDoer
}

// NewMandrillMailer creates a Mandrill adapter from explicit config.
func NewMandrillMailer(cfg config.MailerConfig, client httpretry.HTTPDoer) *MandrillMailer {
	return &MandrillMailer{
		apiKey:     cfg.APIKey,
		webhookKey: cfg.WebhookSecret,
		webhookURL: cfg.WebhookURL,
		baseURL:    "https://mandrillapp.com/api/1.0",
		client:     client,
	}
}

// Name identifies the vendor.
func (m *MandrillMailer) Name() domain.ProviderType { return domain.ProviderMandrill }

// SendBatch walks the batch message by message. A vendor rejection of one
// message marks only that recipient failed; the rest of the batch proceeds.
func (m *MandrillMailer) SendBatch(ctx context.Context, messages []domain.EmailMessage) (*domain.SendResult, error) {
	if m.apiKey == "" {
		return nil, fmt.Errorf("mandrill: API key not configured")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("mandrill: empty batch")
	}

	result := &domain.SendResult{
		MessageIDs:    make(map[string]string, len(messages)),
		FailedReasons: map[string]string{},
	}

	for _, msg := range messages {
		id, reason := m.sendOne(ctx, msg)
		if id != "" {
			result.MessageIDs[msg.Email] = id
			result.AcceptedCount++
			continue
		}
		result.FailedCount++
		result.FailedReasons[msg.Email] = reason
	}

	log.Printf("[Mandrill] batch done: %d accepted, %d failed", result.AcceptedCount, result.FailedCount)
	return result, nil
}

func (m *MandrillMailer) sendOne(ctx context.Context, msg domain.EmailMessage) (messageID, failReason string) {
	metadata := map[string]string{
		"campaign_id":   msg.CampaignID,
		"list_id":       msg.ListID,
		"subscriber_id": msg.SubscriberID,
	}
	for k, v := range msg.Metadata {
		metadata[k] = v
	}

	message := map[string]any{
		"subject":    msg.Subject,
		"from_email": msg.FromEmail,
		"from_name":  msg.FromName,
		"html":       msg.HTMLContent,
		"to":         []map[string]string{{"email": msg.Email, "type": "to"}},
		"metadata":   metadata,
	}
	if msg.TextContent != "" {
		message["text"] = msg.TextContent
	}
	headers := map[string]string{}
	if msg.ReplyTo != "" {
		headers["Reply-To"] = msg.ReplyTo
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if len(headers) > 0 {
		message["headers"] = headers
	}

	payload, err := json.Marshal(map[string]any{"key": m.apiKey, "message": message})
	if err != nil {
		return "", fmt.Sprintf("marshal: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages/send.json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Sprintf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Sprintf("transport: %v", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", fmt.Sprintf("mandrill error %d", resp.StatusCode)
	}

	var results []struct {
		Email        string `json:"email"`
		Status       string `json:"status"`
		ID           string `json:"_id"`
		RejectReason string `json:"reject_reason"`
	}
	if err := json.Unmarshal(respBody, &results); err != nil || len(results) == 0 {
		return "", "unparseable vendor response"
	}

	r := results[0]
	switch r.Status {
	case "sent", "queued", "scheduled":
		return r.ID, ""
	default:
		return "", fmt.Sprintf("%s: %s", r.Status, r.RejectReason)
	}
}

// ValidateFromAddress checks that the address's domain is fully verified on
// the account.
func (m *MandrillMailer) ValidateFromAddress(ctx context.Context, address string) (bool, error) {
	if m.apiKey == "" {
		return false, fmt.Errorf("mandrill: API key not configured")
	}

	payload, _ := json.Marshal(map[string]string{"key": m.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/senders/domains.json", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("mandrill: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("mandrill: sender domains: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("mandrill: sender domains returned %d", resp.StatusCode)
	}

	var domains []struct {
		Domain string `json:"domain"`
		SPF    struct {
			Valid bool `json:"valid"`
		} `json:"spf"`
		DKIM struct {
			Valid bool `json:"valid"`
		} `json:"dkim"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&domains); err != nil {
		return false, fmt.Errorf("mandrill: decode sender domains: %w", err)
	}

	addr := domain.NormalizeEmail(address)
	for _, d := range domains {
		if hasDomainSuffix(addr, d.Domain) && d.SPF.Valid && d.DKIM.Valid {
			return true, nil
		}
	}
	return false, nil
}

func hasDomainSuffix(addr, dom string) bool {
	i := strings.LastIndex(addr, "@")
	return i >= 0 && addr[i+1:] == dom
}

// mandrillEvent is one entry of the form-encoded mandrill_events payload.
type mandrillEvent struct {
	Event string `json:"event"`
	Msg   struct {
		Email    string `json:"email"`
		Metadata struct {
			CampaignID string `json:"campaign_id"`
			ListID     string `json:"list_id"`
		} `json:"metadata"`
	} `json:"msg"`
}

// ParseWebhook verifies the legacy Mandrill signature: base64 of
// HMAC-SHA1(webhook URL + all POST params concatenated key,value in key
// order) with the webhook key. Without a configured key nothing can be
// verified, so everything is rejected.
func (m *MandrillMailer) ParseWebhook(r *http.Request) (*domain.WebhookResult, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("mandrill: parse webhook form: %w", err)
	}

	if !m.verifySignature(r) {
		log.Printf("[Mandrill] webhook signature verification failed")
		return &domain.WebhookResult{}, nil
	}

	raw := r.PostForm.Get("mandrill_events")
	var events []mandrillEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		log.Printf("[Mandrill] webhook events not parseable: %v", err)
		return &domain.WebhookResult{}, nil
	}

	result := &domain.WebhookResult{}
	for _, ev := range events {
		if ev.Msg.Email == "" {
			continue
		}
		e := domain.WebhookEvent{
			Email:      domain.NormalizeEmail(ev.Msg.Email),
			CampaignID: ev.Msg.Metadata.CampaignID,
			ListID:     ev.Msg.Metadata.ListID,
		}
		switch ev.Event {
		case "hard_bounce", "soft_bounce", "reject":
			result.Bounces = append(result.Bounces, e)
		case "spam":
			result.Complaints = append(result.Complaints, e)
		case "unsub":
			e.UnsubscribeAll = ev.Msg.Metadata.ListID == ""
			result.Unsubscribes = append(result.Unsubscribes, e)
		}
	}
	return result, nil
}

func (m *MandrillMailer) verifySignature(r *http.Request) bool {
	if m.webhookKey == "" {
		return false
	}
	provided := r.Header.Get(mandrillSignatureHeader)
	if provided == "" {
		return false
	}

	url := m.webhookURL
	if url == "" {
		scheme := "https"
		if r.TLS == nil {
			scheme = "http"
		}
		url = scheme + "://" + r.Host + r.URL.RequestURI()
	}

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	signed := url
	for _, k := range keys {
		for _, v := range r.PostForm[k] {
			signed += k + v
		}
	}

	h := hmac.New(sha1.New, []byte(m.webhookKey))
	h.Write([]byte(signed))
	expected := base64.StdEncoding.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(provided))
}

// SyncSuppressions adds the addresses to the account's reject list, one call
// per address (the rejects API has no bulk form).
func (m *MandrillMailer) SyncSuppressions(ctx context.Context, emails []string, reason domain.SuppressionReason) error {
	if m.apiKey == "" || len(emails) == 0 {
		return nil
	}

	var firstErr error
	for _, email := range emails {
		payload, _ := json.Marshal(map[string]string{
			"key":     m.apiKey,
			"email":   email,
			"comment": "suppressed locally: " + string(reason),
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/rejects/add.json", bytes.NewReader(payload))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("mandrill: rejects add: %w", err)
			}
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 && firstErr == nil {
			firstErr = fmt.Errorf("mandrill: rejects add returned %d", resp.StatusCode)
		}
	}
	if firstErr == nil {
		log.Printf("[Mandrill] synced %d %s suppressions", len(emails), reason)
	}
	return firstErr
}
