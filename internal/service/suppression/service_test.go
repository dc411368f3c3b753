package suppression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

type memoryRepo struct {
	entries map[string]*domain.Suppression
	upserts int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[string]*domain.Suppression)}
}

func (m *memoryRepo) Get(_ context.Context, email string) (*domain.Suppression, error) {
	return m.entries[email], nil
}

func (m *memoryRepo) Upsert(_ context.Context, s *domain.Suppression) error {
	m.upserts++
	cp := *s
	m.entries[s.Email] = &cp
	return nil
}

func (m *memoryRepo) ListEmails(_ context.Context, emails []string) (map[string]domain.SuppressionReason, error) {
	out := make(map[string]domain.SuppressionReason)
	for _, e := range emails {
		if entry, ok := m.entries[e]; ok {
			out[e] = entry.Reason
		}
	}
	return out, nil
}

func TestSuppressNormalizesEmail(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	require.NoError(t, svc.Suppress(context.Background(), "  Bounced@Example.COM ", domain.ReasonBounce, "camp-1"))

	entry := repo.entries["bounced@example.com"]
	require.NotNil(t, entry)
	assert.Equal(t, domain.ReasonBounce, entry.Reason)
	assert.Equal(t, "camp-1", entry.CampaignID)
}

func TestSuppressRepeatIsNoOp(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Suppress(ctx, "a@example.com", domain.ReasonBounce, "camp-1"))
	require.NoError(t, svc.Suppress(ctx, "a@example.com", domain.ReasonBounce, "camp-2"))

	assert.Equal(t, 1, repo.upserts)
	assert.Equal(t, "camp-1", repo.entries["a@example.com"].CampaignID)
}

func TestSuppressComplaintEscalatesBounce(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Suppress(ctx, "a@example.com", domain.ReasonBounce, "camp-1"))
	require.NoError(t, svc.Suppress(ctx, "a@example.com", domain.ReasonComplaint, "camp-2"))

	assert.Equal(t, domain.ReasonComplaint, repo.entries["a@example.com"].Reason)
}

func TestSuppressBounceNeverDowngradesComplaint(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Suppress(ctx, "a@example.com", domain.ReasonComplaint, "camp-1"))
	require.NoError(t, svc.Suppress(ctx, "a@example.com", domain.ReasonBounce, "camp-2"))

	assert.Equal(t, domain.ReasonComplaint, repo.entries["a@example.com"].Reason)
	assert.Equal(t, 1, repo.upserts)
}

func TestSuppressRejectsInvalidInput(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	assert.ErrorIs(t, svc.Suppress(ctx, "   ", domain.ReasonBounce, ""), ErrEmptyEmail)
	assert.ErrorIs(t, svc.Suppress(ctx, "a@example.com", domain.SuppressionReason("manual"), ""), ErrUnknownReason)
}

func TestFilterSuppressedPartitions(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Suppress(ctx, "blocked@example.com", domain.ReasonBounce, ""))

	deliverable, suppressed, err := svc.FilterSuppressed(ctx, []string{
		"ok@example.com",
		"Blocked@Example.com",
		"also-ok@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok@example.com", "also-ok@example.com"}, deliverable)
	assert.Equal(t, []string{"Blocked@Example.com"}, suppressed)
}

func TestIsSuppressed(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.Suppress(ctx, "a@example.com", domain.ReasonComplaint, ""))

	got, err := svc.IsSuppressed(ctx, "A@example.com")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = svc.IsSuppressed(ctx, "b@example.com")
	require.NoError(t, err)
	assert.False(t, got)
}
