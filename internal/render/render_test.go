package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

func TestRenderSubstitution(t *testing.T) {
	r := New()

	out, err := r.Render("Hi {{ first_name }}, see you at {{ event }}!", map[string]any{
		"first_name": "Dana",
		"event":      "Friday Jazz",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Dana, see you at Friday Jazz!", out)
}

func TestRenderMissingVariableIsEmpty(t *testing.T) {
	r := New()

	out, err := r.Render("Hi {{ first_name }}!", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hi !", out)
}

func TestRenderDefaultFilter(t *testing.T) {
	r := New()

	out, err := r.Render(`Hi {{ first_name | default: "there" }}!`, map[string]any{
		"first_name": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", out)
}

func TestRenderPlainContentPassthrough(t *testing.T) {
	r := New()

	out, err := r.Render("no template markers here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no template markers here", out)
}

func TestMessageAssemblesAllParts(t *testing.T) {
	r := New()
	campaign := &domain.Campaign{
		ID:          "camp-1",
		Subject:     "Hello {{ first_name }}",
		FromName:    "Events Team",
		FromEmail:   "events@example.com",
		ReplyTo:     "reply@example.com",
		HTMLContent: "<html><body><p>Hi {{ first_name }}</p></body></html>",
		TextContent: "Hi {{ first_name }}",
		Type:        domain.CampaignMarketing,
	}
	member := &domain.AudienceMember{
		SubscriberID: "sub-1",
		Email:        "dana@example.com",
		FirstName:    "Dana",
		ListID:       "list-1",
	}

	msg, err := r.Message(campaign, member, "", "https://app.example.com/u/tok123")
	require.NoError(t, err)

	assert.Equal(t, "Hello Dana", msg.Subject)
	assert.Contains(t, msg.HTMLContent, "<p>Hi Dana</p>")
	assert.Contains(t, msg.TextContent, "Hi Dana")
	assert.Equal(t, "camp-1", msg.CampaignID)
	assert.Equal(t, "list-1", msg.ListID)
	assert.Equal(t, "sub-1", msg.SubscriberID)
	assert.Equal(t, "<https://app.example.com/u/tok123>", msg.Headers["List-Unsubscribe"])
	assert.Equal(t, "marketing", msg.Metadata["email_type"])
}

func TestMessageFooterInjectedBeforeBodyClose(t *testing.T) {
	r := New()
	campaign := &domain.Campaign{
		ID:          "camp-1",
		Subject:     "s",
		HTMLContent: "<html><body><p>content</p></body></html>",
		TextContent: "content",
	}
	member := &domain.AudienceMember{Email: "a@example.com"}

	msg, err := r.Message(campaign, member, "Unsubscribe: {{unsubscribe_url}}", "https://x/u/1")
	require.NoError(t, err)

	assert.Contains(t, msg.HTMLContent, "Unsubscribe: https://x/u/1</p></body>")
	assert.Contains(t, msg.TextContent, "content\n\nUnsubscribe: https://x/u/1")
}

func TestMessageNoFooterWithoutURL(t *testing.T) {
	r := New()
	campaign := &domain.Campaign{ID: "camp-1", Subject: "s", HTMLContent: "<p>x</p>", Type: domain.CampaignNotification}
	member := &domain.AudienceMember{Email: "a@example.com"}

	msg, err := r.Message(campaign, member, "", "")
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", msg.HTMLContent)
	assert.Nil(t, msg.Headers)
}
