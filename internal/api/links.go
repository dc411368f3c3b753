package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
)

// ErrBadToken is returned for a tampered, malformed, or expired link token.
var ErrBadToken = errors.New("invalid or expired token")

// LinkSigner issues and verifies the signed, time-limited tokens embedded in
// unsubscribe and subscription-confirmation links. Tokens are HMAC-SHA256
// over the payload fields, so the public endpoints need no session state.
type LinkSigner struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

// NewLinkSigner creates a signer. baseURL is the externally visible origin
// the links point at, e.g. "https://app.example.com".
func NewLinkSigner(secret, baseURL string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &LinkSigner{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
	}
}

// LinkClaims is the verified payload of a link token.
type LinkClaims struct {
	SubscriberID string
	ListID       string
	Scope        domain.UnsubscribeScope
}

// UnsubscribeURL builds the signed one-click unsubscribe link for a
// (subscriber, list) pair. An empty listID produces an account-wide link.
func (s *LinkSigner) UnsubscribeURL(subscriberID, listID string) string {
	scope := domain.ScopeList
	if listID == "" {
		scope = domain.ScopeAll
	}
	token := s.sign(subscriberID, listID, string(scope), time.Now().Add(s.ttl))
	return fmt.Sprintf("%s/unsubscribe?token=%s", s.baseURL, token)
}

// ConfirmURL builds the signed subscription-confirmation link used for
// double opt-in.
func (s *LinkSigner) ConfirmURL(subscriberID, listID string) string {
	token := s.sign(subscriberID, listID, "confirm", time.Now().Add(s.ttl))
	return fmt.Sprintf("%s/subscriptions/confirm?token=%s", s.baseURL, token)
}

// Verify checks a token's signature and expiry and returns its claims.
// action must match what the token was issued for ("list"/"all" for
// unsubscribe links, "confirm" for confirmations).
func (s *LinkSigner) Verify(token string, actions ...string) (*LinkClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrBadToken
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 5 {
		return nil, ErrBadToken
	}
	subscriberID, listID, action, expStr, sig := parts[0], parts[1], parts[2], parts[3], parts[4]

	expected := s.mac(subscriberID, listID, action, expStr)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, ErrBadToken
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return nil, ErrBadToken
	}

	ok := len(actions) == 0
	for _, a := range actions {
		if a == action {
			ok = true
		}
	}
	if !ok {
		return nil, ErrBadToken
	}

	claims := &LinkClaims{SubscriberID: subscriberID, ListID: listID}
	switch action {
	case string(domain.ScopeAll):
		claims.Scope = domain.ScopeAll
	case string(domain.ScopeList):
		claims.Scope = domain.ScopeList
	}
	return claims, nil
}

func (s *LinkSigner) sign(subscriberID, listID, action string, expires time.Time) string {
	expStr := strconv.FormatInt(expires.Unix(), 10)
	sig := s.mac(subscriberID, listID, action, expStr)
	payload := strings.Join([]string{subscriberID, listID, action, expStr, sig}, "|")
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func (s *LinkSigner) mac(parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.Join(parts, "|")))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
