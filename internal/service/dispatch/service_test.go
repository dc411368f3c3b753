package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/render"
)

type fakeCampaignRepo struct {
	campaign *domain.Campaign
	statuses []domain.CampaignStatus
}

func (f *fakeCampaignRepo) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	if f.campaign != nil && f.campaign.ID == id {
		return f.campaign, nil
	}
	return nil, nil
}

func (f *fakeCampaignRepo) UpdateStatus(_ context.Context, _ string, status domain.CampaignStatus) error {
	f.statuses = append(f.statuses, status)
	f.campaign.Status = status
	return nil
}

type fakeRecipientRepo struct {
	rows map[string]*domain.CampaignRecipient // keyed by email
}

func newFakeRecipientRepo() *fakeRecipientRepo {
	return &fakeRecipientRepo{rows: make(map[string]*domain.CampaignRecipient)}
}

func (f *fakeRecipientRepo) Upsert(_ context.Context, r *domain.CampaignRecipient) error {
	cp := *r
	f.rows[r.Email] = &cp
	return nil
}

func (f *fakeRecipientRepo) RecordedEmails(_ context.Context, _ string) (map[string]bool, error) {
	out := make(map[string]bool, len(f.rows))
	for e := range f.rows {
		out[e] = true
	}
	return out, nil
}

type fakeStatsRepo struct {
	total domain.CampaignStats
}

func (f *fakeStatsRepo) Increment(_ context.Context, _ string, delta domain.CampaignStats) error {
	f.total.TargetedCount += delta.TargetedCount
	f.total.SuppressedCount += delta.SuppressedCount
	f.total.ProviderAcceptedCount += delta.ProviderAcceptedCount
	f.total.BouncedCount += delta.BouncedCount
	return nil
}

type fakeAudience struct {
	members []domain.AudienceMember
}

func (f *fakeAudience) ResolveAudience(_ context.Context, _ []string) ([]domain.AudienceMember, error) {
	return f.members, nil
}

type fakeRegistry struct {
	blocked map[string]bool
}

func (f *fakeRegistry) IsSuppressed(_ context.Context, email string) (bool, error) {
	return f.blocked[email], nil
}

type fakeMailer struct {
	validFrom  bool
	batches    [][]domain.EmailMessage
	failBatch  map[int]bool // batch index -> full transport failure
	rejectMail map[string]bool
}

func (f *fakeMailer) Name() domain.ProviderType { return domain.ProviderSendGrid }

func (f *fakeMailer) SendBatch(_ context.Context, msgs []domain.EmailMessage) (*domain.SendResult, error) {
	idx := len(f.batches)
	f.batches = append(f.batches, msgs)
	result := &domain.SendResult{MessageIDs: make(map[string]string)}
	if f.failBatch[idx] {
		result.FailedCount = len(msgs)
		return result, nil
	}
	for i, m := range msgs {
		if f.rejectMail[m.Email] {
			result.FailedCount++
			continue
		}
		result.AcceptedCount++
		result.MessageIDs[m.Email] = fmt.Sprintf("msg-%d-%d", idx, i)
	}
	return result, nil
}

func (f *fakeMailer) ValidateFromAddress(_ context.Context, _ string) (bool, error) {
	return f.validFrom, nil
}

func (f *fakeMailer) ParseWebhook(_ *http.Request) (*domain.WebhookResult, error) {
	return &domain.WebhookResult{}, nil
}

func (f *fakeMailer) SyncSuppressions(_ context.Context, _ []string, _ domain.SuppressionReason) error {
	return nil
}

type countingLimiter struct {
	waits []int
	err   error
}

func (c *countingLimiter) Wait(_ context.Context, n int) error {
	c.waits = append(c.waits, n)
	return c.err
}

type staticLinker struct{}

func (staticLinker) UnsubscribeURL(subscriberID, listID string) string {
	return fmt.Sprintf("https://app.example.com/u/%s/%s", subscriberID, listID)
}

type fixture struct {
	job        *Job
	campaigns  *fakeCampaignRepo
	recipients *fakeRecipientRepo
	stats      *fakeStatsRepo
	mailer     *fakeMailer
	limiter    *countingLimiter
}

func newFixture(campaign *domain.Campaign, members []domain.AudienceMember, blocked map[string]bool, opts Options) *fixture {
	campaigns := &fakeCampaignRepo{campaign: campaign}
	recipients := newFakeRecipientRepo()
	stats := &fakeStatsRepo{}
	mailer := &fakeMailer{validFrom: true, failBatch: map[int]bool{}, rejectMail: map[string]bool{}}
	limiter := &countingLimiter{}
	job := NewJob(
		campaigns, recipients, stats,
		&fakeAudience{members: members},
		&fakeRegistry{blocked: blocked},
		render.New(),
		mailer, limiter, staticLinker{}, opts,
	)
	return &fixture{job: job, campaigns: campaigns, recipients: recipients, stats: stats, mailer: mailer, limiter: limiter}
}

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:          "camp-1",
		Subject:     "Hello {{ first_name }}",
		FromEmail:   "events@example.com",
		FromName:    "Events",
		HTMLContent: "<p>Hi {{ first_name }}</p>",
		Type:        domain.CampaignMarketing,
		Status:      domain.CampaignScheduled,
		ListIDs:     []string{"list-1"},
	}
}

func member(email string) domain.AudienceMember {
	return domain.AudienceMember{
		SubscriberID: "sub-" + email,
		Email:        email,
		ListID:       "list-1",
		Status:       domain.SubscriptionSubscribed,
	}
}

func TestRunFourSubscriberAccounting(t *testing.T) {
	now := time.Now().UTC()
	accountUnsub := member("account@example.com")
	accountUnsub.MarketingUnsubscribedAt = &now
	optedOut := member("optout@example.com")
	optedOut.Metadata = map[string]any{"marketing_opt_in": false}
	suppressed := member("blocked@example.com")
	valid := member("ok@example.com")

	f := newFixture(testCampaign(),
		[]domain.AudienceMember{accountUnsub, optedOut, suppressed, valid},
		map[string]bool{"blocked@example.com": true},
		Options{BatchSize: 10})

	require.NoError(t, f.job.Run(context.Background(), "camp-1"))

	assert.Equal(t, 4, f.stats.total.TargetedCount)
	assert.Equal(t, 3, f.stats.total.SuppressedCount)
	assert.Equal(t, 1, f.stats.total.ProviderAcceptedCount)
	require.Len(t, f.recipients.rows, 1)
	row := f.recipients.rows["ok@example.com"]
	require.NotNil(t, row)
	assert.Equal(t, domain.RecipientAccepted, row.Status)
	assert.NotEmpty(t, row.ProviderMessageID)
	assert.Equal(t, domain.CampaignSent, f.campaigns.campaign.Status)
}

func TestRunDoubleExclusionCountsOnce(t *testing.T) {
	now := time.Now().UTC()
	both := member("double@example.com")
	both.MarketingUnsubscribedAt = &now

	f := newFixture(testCampaign(),
		[]domain.AudienceMember{both},
		map[string]bool{"double@example.com": true},
		Options{BatchSize: 10})

	require.NoError(t, f.job.Run(context.Background(), "camp-1"))

	assert.Equal(t, 1, f.stats.total.TargetedCount)
	assert.Equal(t, 1, f.stats.total.SuppressedCount)
	assert.Empty(t, f.recipients.rows)
}

func TestRunSentCampaignIsNoOp(t *testing.T) {
	campaign := testCampaign()
	campaign.Status = domain.CampaignSent

	f := newFixture(campaign, []domain.AudienceMember{member("a@example.com")}, nil, Options{})

	require.NoError(t, f.job.Run(context.Background(), "camp-1"))

	assert.Empty(t, f.mailer.batches)
	assert.Empty(t, f.recipients.rows)
	assert.Equal(t, 0, f.stats.total.ProviderAcceptedCount)
}

func TestRunResumeSkipsRecordedRecipients(t *testing.T) {
	f := newFixture(testCampaign(),
		[]domain.AudienceMember{member("done@example.com"), member("fresh@example.com")},
		nil, Options{BatchSize: 10})

	require.NoError(t, f.recipients.Upsert(context.Background(), &domain.CampaignRecipient{
		CampaignID: "camp-1",
		Email:      "done@example.com",
		Status:     domain.RecipientAccepted,
	}))

	require.NoError(t, f.job.Run(context.Background(), "camp-1"))

	require.Len(t, f.mailer.batches, 1)
	require.Len(t, f.mailer.batches[0], 1)
	assert.Equal(t, "fresh@example.com", f.mailer.batches[0][0].Email)
	// The resumed recipient is not re-counted.
	assert.Equal(t, 1, f.stats.total.TargetedCount)
}

func TestRunFromAddressRejected(t *testing.T) {
	f := newFixture(testCampaign(), []domain.AudienceMember{member("a@example.com")}, nil, Options{})
	f.mailer.validFrom = false

	err := f.job.Run(context.Background(), "camp-1")
	assert.ErrorIs(t, err, ErrFromAddressRejected)

	// Campaign untouched: no status transition, nothing sent.
	assert.Equal(t, domain.CampaignScheduled, f.campaigns.campaign.Status)
	assert.Empty(t, f.campaigns.statuses)
	assert.Empty(t, f.mailer.batches)
}

func TestRunScheduledInFuture(t *testing.T) {
	campaign := testCampaign()
	future := time.Now().Add(time.Hour)
	campaign.ScheduledAt = &future

	f := newFixture(campaign, nil, nil, Options{})

	err := f.job.Run(context.Background(), "camp-1")
	assert.ErrorIs(t, err, ErrNotScheduled)
	assert.Empty(t, f.campaigns.statuses)
}

func TestRunUnknownCampaign(t *testing.T) {
	f := newFixture(testCampaign(), nil, nil, Options{})

	err := f.job.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestNotificationBypassesMarketingFilters(t *testing.T) {
	now := time.Now().UTC()
	campaign := testCampaign()
	campaign.Type = domain.CampaignNotification

	accountUnsub := member("account@example.com")
	accountUnsub.MarketingUnsubscribedAt = &now
	optedOut := member("optout@example.com")
	optedOut.Metadata = map[string]any{"marketing_opt_in": false}
	suppressed := member("blocked@example.com")

	f := newFixture(campaign,
		[]domain.AudienceMember{accountUnsub, optedOut, suppressed},
		map[string]bool{"blocked@example.com": true},
		Options{BatchSize: 10})

	require.NoError(t, f.job.Run(context.Background(), "camp-1"))

	// Account-level and opt-in filters apply to marketing only, but a
	// suppression always wins.
	require.Len(t, f.mailer.batches, 1)
	assert.Len(t, f.mailer.batches[0], 2)
	assert.Equal(t, 3, f.stats.total.TargetedCount)
	assert.Equal(t, 1, f.stats.total.SuppressedCount)
}

func TestRunBatchPartitionUnderRateLimit(t *testing.T) {
	members := []domain.AudienceMember{
		member("a@example.com"), member("b@example.com"), member("c@example.com"),
		member("d@example.com"), member("e@example.com"),
	}
	f := newFixture(testCampaign(), members, nil, Options{BatchSize: 2})

	require.NoError(t, f.job.Run(context.Background(), "camp-1"))

	require.Len(t, f.mailer.batches, 3)
	assert.Equal(t, []int{2, 2, 1}, f.limiter.waits)
	assert.Equal(t, 5, f.stats.total.ProviderAcceptedCount)
}

func TestRunProviderFailureContinuesToNextBatch(t *testing.T) {
	members := []domain.AudienceMember{
		member("a@example.com"), member("b@example.com"),
		member("c@example.com"), member("d@example.com"),
	}
	f := newFixture(testCampaign(), members, nil, Options{BatchSize: 2})
	f.mailer.failBatch[0] = true

	require.NoError(t, f.job.Run(context.Background(), "camp-1"))

	require.Len(t, f.mailer.batches, 2)
	assert.Equal(t, 2, f.stats.total.ProviderAcceptedCount)
	assert.Equal(t, domain.RecipientFailed, f.recipients.rows["a@example.com"].Status)
	assert.Equal(t, domain.RecipientFailed, f.recipients.rows["b@example.com"].Status)
	assert.Equal(t, domain.RecipientAccepted, f.recipients.rows["c@example.com"].Status)
	assert.Equal(t, domain.CampaignSent, f.campaigns.campaign.Status)
}

func TestRunRateLimiterErrorAborts(t *testing.T) {
	f := newFixture(testCampaign(), []domain.AudienceMember{member("a@example.com")}, nil, Options{BatchSize: 1})
	f.limiter.err = errors.New("redis down")

	err := f.job.Run(context.Background(), "camp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Empty(t, f.mailer.batches)
}
