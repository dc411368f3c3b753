package api

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

func tokenFrom(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestUnsubscribeLinkRoundTrip(t *testing.T) {
	signer := NewLinkSigner("secret-key", "https://app.example.com", time.Hour)

	link := signer.UnsubscribeURL("sub-1", "list-1")
	assert.True(t, strings.HasPrefix(link, "https://app.example.com/unsubscribe?token="))

	claims, err := signer.Verify(tokenFrom(t, link))
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.SubscriberID)
	assert.Equal(t, "list-1", claims.ListID)
	assert.Equal(t, domain.ScopeList, claims.Scope)
}

func TestUnsubscribeLinkWithoutListIsAccountWide(t *testing.T) {
	signer := NewLinkSigner("secret-key", "https://app.example.com", time.Hour)

	claims, err := signer.Verify(tokenFrom(t, signer.UnsubscribeURL("sub-1", "")))
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeAll, claims.Scope)
}

func TestTamperedTokenRejected(t *testing.T) {
	signer := NewLinkSigner("secret-key", "https://app.example.com", time.Hour)
	token := tokenFrom(t, signer.UnsubscribeURL("sub-1", "list-1"))

	_, err := signer.Verify(token[:len(token)-4] + "AAAA")
	assert.ErrorIs(t, err, ErrBadToken)

	_, err = signer.Verify("not-base64!!!")
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	a := NewLinkSigner("secret-a", "https://app.example.com", time.Hour)
	b := NewLinkSigner("secret-b", "https://app.example.com", time.Hour)

	_, err := b.Verify(tokenFrom(t, a.UnsubscribeURL("sub-1", "list-1")))
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	signer := NewLinkSigner("secret-key", "https://app.example.com", time.Hour)
	token := signer.sign("sub-1", "list-1", string(domain.ScopeList), time.Now().Add(-time.Minute))

	_, err := signer.Verify(token)
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestActionMismatchRejected(t *testing.T) {
	signer := NewLinkSigner("secret-key", "https://app.example.com", time.Hour)

	// A confirmation token must not work on the unsubscribe endpoint.
	token := tokenFrom(t, signer.ConfirmURL("sub-1", "list-1"))
	_, err := signer.Verify(token, string(domain.ScopeList), string(domain.ScopeAll))
	assert.ErrorIs(t, err, ErrBadToken)

	_, err = signer.Verify(token, "confirm")
	assert.NoError(t, err)
}
