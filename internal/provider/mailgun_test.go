package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
)

const mgSigningKey = "key-signing-test"

func mailgunForTest(t *testing.T, baseURL string) *MailgunMailer {
	t.Helper()
	m := NewMailgunMailer(config.MailerConfig{
		APIKey:        "key-api",
		Domain:        "mg.example.com",
		WebhookSecret: mgSigningKey,
	}, http.DefaultClient)
	if baseURL != "" {
		m.baseURL = baseURL
	}
	return m
}

func TestMailgunSendBatchAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mg.example.com/messages", r.URL.Path)
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-api", pass)
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("recipient-variables"))
		fmt.Fprint(w, `{"id":"<20260831.1@mg.example.com>","message":"Queued."}`)
	}))
	defer srv.Close()

	m := mailgunForTest(t, srv.URL)
	msgs := testBatch(3)
	res, err := m.SendBatch(context.Background(), msgs)
	require.NoError(t, err)

	assert.Equal(t, 3, res.AcceptedCount)
	assert.Equal(t, len(msgs), res.AcceptedCount+res.FailedCount)
	for _, msg := range msgs {
		id := res.MessageIDs[msg.Email]
		assert.True(t, strings.HasPrefix(id, "20260831.1@mg.example.com-"))
	}
}

func TestMailgunSendBatchMalformedAcceptBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `Queued.`)
	}))
	defer srv.Close()

	m := mailgunForTest(t, srv.URL)
	msgs := testBatch(2)
	res, err := m.SendBatch(context.Background(), msgs)
	require.NoError(t, err)

	assert.Equal(t, 2, res.AcceptedCount)
	for _, msg := range msgs {
		id := res.MessageIDs[msg.Email]
		assert.NotEmpty(t, id)
		assert.NotEqual(t, "-"+msg.SubscriberID, id, "batch id must be generated when the response is unparseable")
	}
}

func TestMailgunSendBatchVendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Domain not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	m := mailgunForTest(t, srv.URL)
	res, err := m.SendBatch(context.Background(), testBatch(4))
	require.NoError(t, err)
	assert.Equal(t, 0, res.AcceptedCount)
	assert.Equal(t, 4, res.FailedCount)
	assert.Empty(t, res.MessageIDs)
}

func mailgunSignature(timestamp, token string) string {
	h := hmac.New(sha256.New, []byte(mgSigningKey))
	h.Write([]byte(timestamp + token))
	return hex.EncodeToString(h.Sum(nil))
}

func mailgunWebhookBody(event, severity, recipient, signature string) string {
	return fmt.Sprintf(`{
		"signature": {"timestamp":"1693526400","token":"tok-1","signature":"%s"},
		"event-data": {
			"event": "%s",
			"severity": "%s",
			"recipient": "%s",
			"user-variables": {"campaign_id":"camp-1","list_id":"list-1"}
		}
	}`, signature, event, severity, recipient)
}

func TestMailgunWebhookValidBounce(t *testing.T) {
	m := mailgunForTest(t, "")
	body := mailgunWebhookBody("failed", "permanent", "Gone@Example.com", mailgunSignature("1693526400", "tok-1"))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email/mailgun", strings.NewReader(body))

	res, err := m.ParseWebhook(req)
	require.NoError(t, err)
	require.Len(t, res.Bounces, 1)
	assert.Equal(t, "gone@example.com", res.Bounces[0].Email)
	assert.Equal(t, "camp-1", res.Bounces[0].CampaignID)
	assert.Empty(t, res.Complaints)
	assert.Empty(t, res.Unsubscribes)
}

func TestMailgunWebhookBouncedEvent(t *testing.T) {
	m := mailgunForTest(t, "")
	body := mailgunWebhookBody("bounced", "", "Hard@Example.com", mailgunSignature("1693526400", "tok-1"))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email/mailgun", strings.NewReader(body))

	res, err := m.ParseWebhook(req)
	require.NoError(t, err)
	require.Len(t, res.Bounces, 1)
	assert.Equal(t, "hard@example.com", res.Bounces[0].Email)
	assert.Empty(t, res.Complaints)
	assert.Empty(t, res.Unsubscribes)
}

func TestMailgunWebhookTemporaryFailureSkipped(t *testing.T) {
	m := mailgunForTest(t, "")
	body := mailgunWebhookBody("failed", "temporary", "later@example.com", mailgunSignature("1693526400", "tok-1"))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email/mailgun", strings.NewReader(body))

	res, err := m.ParseWebhook(req)
	require.NoError(t, err)
	assert.True(t, res.Empty(), "temporary failures are not bounces")
}

func TestMailgunWebhookInvalidSignature(t *testing.T) {
	m := mailgunForTest(t, "")
	body := mailgunWebhookBody("complained", "", "angry@example.com", "deadbeef")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email/mailgun", strings.NewReader(body))

	res, err := m.ParseWebhook(req)
	require.NoError(t, err)
	assert.True(t, res.Empty(), "unverified payload must yield zero events")
}

func TestMailgunWebhookUnsubscribeScope(t *testing.T) {
	m := mailgunForTest(t, "")
	body := mailgunWebhookBody("unsubscribed", "", "leaver@example.com", mailgunSignature("1693526400", "tok-1"))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email/mailgun", strings.NewReader(body))

	res, err := m.ParseWebhook(req)
	require.NoError(t, err)
	require.Len(t, res.Unsubscribes, 1)
	assert.False(t, res.Unsubscribes[0].UnsubscribeAll, "list_id present means list-scoped")
	assert.Equal(t, "list-1", res.Unsubscribes[0].ListID)
}

func TestMailgunSyncSuppressionsRouting(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := mailgunForTest(t, srv.URL)
	require.NoError(t, m.SyncSuppressions(context.Background(), []string{"a@example.com"}, "bounce"))
	require.NoError(t, m.SyncSuppressions(context.Background(), []string{"b@example.com"}, "complaint"))
	assert.Equal(t, []string{"/mg.example.com/bounces", "/mg.example.com/complaints"}, paths)
}
