package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/audience"
)

type suppressCall struct {
	email      string
	reason     domain.SuppressionReason
	campaignID string
}

type fakeRegistry struct {
	calls []suppressCall
	err   error
}

func (f *fakeRegistry) Suppress(_ context.Context, email string, reason domain.SuppressionReason, campaignID string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, suppressCall{email, reason, campaignID})
	return nil
}

type unsubCall struct {
	email  string
	scope  domain.UnsubscribeScope
	listID string
	actor  domain.Actor
}

type fakeLedger struct {
	calls []unsubCall
	err   error
}

func (f *fakeLedger) Unsubscribe(_ context.Context, email string, scope domain.UnsubscribeScope, listID string, actor domain.Actor) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, unsubCall{email, scope, listID, actor})
	return nil
}

type fakeStats struct {
	bounced map[string]int
}

func (f *fakeStats) Increment(_ context.Context, campaignID string, delta domain.CampaignStats) error {
	if f.bounced == nil {
		f.bounced = make(map[string]int)
	}
	f.bounced[campaignID] += delta.BouncedCount
	return nil
}

type fakeRecipients struct {
	updates map[string]domain.RecipientStatus // keyed campaign|email
}

func (f *fakeRecipients) UpdateStatus(_ context.Context, campaignID, email string, status domain.RecipientStatus) error {
	if f.updates == nil {
		f.updates = make(map[string]domain.RecipientStatus)
	}
	f.updates[campaignID+"|"+email] = status
	return nil
}

type parseMailer struct {
	result    *domain.WebhookResult
	parseErr  error
	synced    map[domain.SuppressionReason][]string
	syncErr   error
	syncCalls int
}

func (p *parseMailer) Name() domain.ProviderType { return domain.ProviderMailgun }

func (p *parseMailer) SendBatch(_ context.Context, _ []domain.EmailMessage) (*domain.SendResult, error) {
	return &domain.SendResult{}, nil
}

func (p *parseMailer) ValidateFromAddress(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (p *parseMailer) ParseWebhook(_ *http.Request) (*domain.WebhookResult, error) {
	return p.result, p.parseErr
}

func (p *parseMailer) SyncSuppressions(_ context.Context, emails []string, reason domain.SuppressionReason) error {
	p.syncCalls++
	if p.syncErr != nil {
		return p.syncErr
	}
	if p.synced == nil {
		p.synced = make(map[domain.SuppressionReason][]string)
	}
	p.synced[reason] = append(p.synced[reason], emails...)
	return nil
}

type fixture struct {
	ingester   *Ingester
	mailer     *parseMailer
	registry   *fakeRegistry
	ledger     *fakeLedger
	stats      *fakeStats
	recipients *fakeRecipients
}

func newFixture(result *domain.WebhookResult) *fixture {
	mailer := &parseMailer{result: result}
	registry := &fakeRegistry{}
	ledger := &fakeLedger{}
	stats := &fakeStats{}
	recipients := &fakeRecipients{}
	return &fixture{
		ingester:   NewIngester(mailer, registry, ledger, stats, recipients),
		mailer:     mailer,
		registry:   registry,
		ledger:     ledger,
		stats:      stats,
		recipients: recipients,
	}
}

func TestApplyBounceSuppressesAndCounts(t *testing.T) {
	f := newFixture(nil)

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Bounces: []domain.WebhookEvent{{Email: "b@example.com", CampaignID: "camp-1"}},
	})
	require.NoError(t, err)

	require.Len(t, f.registry.calls, 1)
	assert.Equal(t, suppressCall{"b@example.com", domain.ReasonBounce, "camp-1"}, f.registry.calls[0])
	assert.Equal(t, 1, f.stats.bounced["camp-1"])
	assert.Equal(t, domain.RecipientBounced, f.recipients.updates["camp-1|b@example.com"])
	assert.Equal(t, []string{"b@example.com"}, f.mailer.synced[domain.ReasonBounce])
}

func TestApplyComplaintUsesComplaintReason(t *testing.T) {
	f := newFixture(nil)

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Complaints: []domain.WebhookEvent{{Email: "spam@example.com", CampaignID: "camp-1"}},
	})
	require.NoError(t, err)

	require.Len(t, f.registry.calls, 1)
	assert.Equal(t, domain.ReasonComplaint, f.registry.calls[0].reason)
	assert.Equal(t, []string{"spam@example.com"}, f.mailer.synced[domain.ReasonComplaint])
}

func TestApplyBounceWithoutCampaignSkipsCounter(t *testing.T) {
	f := newFixture(nil)

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Bounces: []domain.WebhookEvent{{Email: "b@example.com"}},
	})
	require.NoError(t, err)

	assert.Empty(t, f.stats.bounced)
	assert.Empty(t, f.recipients.updates)
	require.Len(t, f.registry.calls, 1)
}

func TestApplyUnsubscribeScopes(t *testing.T) {
	f := newFixture(nil)

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Unsubscribes: []domain.WebhookEvent{
			{Email: "all@example.com", UnsubscribeAll: true},
			{Email: "nolist@example.com"},
			{Email: "list@example.com", ListID: "list-3"},
		},
	})
	require.NoError(t, err)

	require.Len(t, f.ledger.calls, 3)
	assert.Equal(t, unsubCall{"all@example.com", domain.ScopeAll, "", domain.ActorProvider}, f.ledger.calls[0])
	assert.Equal(t, unsubCall{"nolist@example.com", domain.ScopeAll, "", domain.ActorProvider}, f.ledger.calls[1])
	assert.Equal(t, unsubCall{"list@example.com", domain.ScopeList, "list-3", domain.ActorProvider}, f.ledger.calls[2])
}

func TestApplyUnknownSubscriberUnsubscribeIsNoOp(t *testing.T) {
	f := newFixture(nil)
	f.ledger.err = audience.ErrSubscriberNotFound

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Unsubscribes: []domain.WebhookEvent{{Email: "ghost@example.com", UnsubscribeAll: true}},
	})
	assert.NoError(t, err)
}

func TestApplySkipsEventlessEmails(t *testing.T) {
	f := newFixture(nil)

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Bounces:      []domain.WebhookEvent{{Email: ""}},
		Unsubscribes: []domain.WebhookEvent{{Email: ""}},
	})
	require.NoError(t, err)
	assert.Empty(t, f.registry.calls)
	assert.Empty(t, f.ledger.calls)
	assert.Zero(t, f.mailer.syncCalls)
}

func TestApplyVendorSyncFailureIsNonFatal(t *testing.T) {
	f := newFixture(nil)
	f.mailer.syncErr = errors.New("vendor 500")

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Bounces: []domain.WebhookEvent{{Email: "b@example.com", CampaignID: "camp-1"}},
	})
	assert.NoError(t, err)
	require.Len(t, f.registry.calls, 1)
}

func TestApplyRegistryFailureReportedButRestProceeds(t *testing.T) {
	f := newFixture(nil)
	f.registry.err = errors.New("db down")

	err := f.ingester.Apply(context.Background(), &domain.WebhookResult{
		Bounces:      []domain.WebhookEvent{{Email: "b@example.com", CampaignID: "camp-1"}},
		Unsubscribes: []domain.WebhookEvent{{Email: "u@example.com", UnsubscribeAll: true}},
	})
	require.Error(t, err)
	// The unsubscribe still went through.
	require.Len(t, f.ledger.calls, 1)
	assert.Empty(t, f.stats.bounced)
}

func TestProcessReplaySameBounceTwice(t *testing.T) {
	result := &domain.WebhookResult{
		Bounces: []domain.WebhookEvent{{Email: "b@example.com", CampaignID: "camp-1"}},
	}
	f := newFixture(result)

	req, _ := http.NewRequest(http.MethodPost, "/webhook/mailgun", nil)
	require.NoError(t, f.ingester.Process(context.Background(), req))
	require.NoError(t, f.ingester.Process(context.Background(), req))

	// Suppression upsert is naturally idempotent; the counter follows the
	// per-delivery accounting of the provider.
	assert.Len(t, f.registry.calls, 2)
	assert.Equal(t, 2, f.stats.bounced["camp-1"])
}

func TestProcessEmptyResult(t *testing.T) {
	f := newFixture(&domain.WebhookResult{})

	req, _ := http.NewRequest(http.MethodPost, "/webhook/mailgun", nil)
	require.NoError(t, f.ingester.Process(context.Background(), req))
	assert.Empty(t, f.registry.calls)
}
