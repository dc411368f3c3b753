package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfiore1230/eventschedule-sub000/internal/config"
	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

func TestFactorySelectsAdapterByKey(t *testing.T) {
	cases := []struct {
		provider string
		want     domain.ProviderType
	}{
		{"sendgrid", domain.ProviderSendGrid},
		{"mailgun", domain.ProviderMailgun},
		{"mandrill", domain.ProviderMandrill},
		{"smtp", domain.ProviderSMTP},
	}
	for _, tc := range cases {
		m, err := New(config.MailerConfig{Provider: tc.provider, APIKey: "k", Domain: "example.com"})
		require.NoError(t, err, tc.provider)
		assert.Equal(t, tc.want, m.Name())
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.MailerConfig{Provider: "postmark"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mail provider")
}
