package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dfiore1230/eventschedule-sub000/internal/domain"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/distlock"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/httputil"
	"github.com/dfiore1230/eventschedule-sub000/internal/pkg/logger"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/audience"
	"github.com/dfiore1230/eventschedule-sub000/internal/service/webhook"
)

// CampaignStore is the campaign persistence surface the handlers need.
type CampaignStore interface {
	Create(ctx context.Context, c *domain.Campaign) error
	Update(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	List(ctx context.Context, status domain.CampaignStatus, limit, offset int) ([]domain.Campaign, error)
}

// StatsStore reads the per-campaign counter row.
type StatsStore interface {
	Get(ctx context.Context, campaignID string) (*domain.CampaignStats, error)
}

// RecipientStore reads the per-recipient ledger.
type RecipientStore interface {
	ListForCampaign(ctx context.Context, campaignID string, limit, offset int) ([]domain.CampaignRecipient, error)
}

// Dispatcher triggers one campaign send.
type Dispatcher interface {
	Run(ctx context.Context, campaignID string) error
}

// LockFactory builds the per-campaign dispatch lock. The send trigger and the
// scheduled-campaign poller must share one factory so a manual send and a due
// scheduled send can never run the same campaign concurrently.
type LockFactory func(campaignID string) distlock.DistLock

// Handlers holds the HTTP handlers for the delivery subsystem.
type Handlers struct {
	campaigns  CampaignStore
	stats      StatsStore
	recipients RecipientStore
	audience   *audience.Service
	ingester   *webhook.Ingester
	dispatcher Dispatcher
	locks      LockFactory
	signer     *LinkSigner
}

func NewHandlers(
	campaigns CampaignStore,
	stats StatsStore,
	recipients RecipientStore,
	audienceSvc *audience.Service,
	ingester *webhook.Ingester,
	dispatcher Dispatcher,
	locks LockFactory,
	signer *LinkSigner,
) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		stats:      stats,
		recipients: recipients,
		audience:   audienceSvc,
		ingester:   ingester,
		dispatcher: dispatcher,
		locks:      locks,
		signer:     signer,
	}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "healthy"})
}

type campaignRequest struct {
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	FromName    string     `json:"from_name"`
	FromEmail   string     `json:"from_email"`
	ReplyTo     string     `json:"reply_to"`
	HTMLContent string     `json:"html_content"`
	TextContent string     `json:"text_content"`
	Type        string     `json:"type"`
	EventID     *string    `json:"event_id"`
	ListIDs     []string   `json:"list_ids"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (req *campaignRequest) validate() string {
	if req.Subject == "" {
		return "subject is required"
	}
	if req.FromEmail == "" {
		return "from_email is required"
	}
	if len(req.ListIDs) == 0 {
		return "at least one list_id is required"
	}
	switch domain.CampaignType(req.Type) {
	case domain.CampaignMarketing, domain.CampaignNotification:
	case "":
		req.Type = string(domain.CampaignMarketing)
	default:
		return "type must be marketing or notification"
	}
	return ""
}

func (req *campaignRequest) apply(c *domain.Campaign) {
	c.Name = req.Name
	c.Subject = req.Subject
	c.FromName = req.FromName
	c.FromEmail = req.FromEmail
	c.ReplyTo = req.ReplyTo
	c.HTMLContent = req.HTMLContent
	c.TextContent = req.TextContent
	c.Type = domain.CampaignType(req.Type)
	c.EventID = req.EventID
	c.ListIDs = req.ListIDs
	c.ScheduledAt = req.ScheduledAt
}

// CreateCampaign handles POST /api/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	var c domain.Campaign
	req.apply(&c)
	c.Status = domain.CampaignDraft
	if c.ScheduledAt != nil {
		c.Status = domain.CampaignScheduled
	}
	if err := h.campaigns.Create(r.Context(), &c); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, c)
}

// UpdateCampaign handles PUT /api/campaigns/{id}. Only draft and scheduled
// campaigns are editable.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}

	c := domain.Campaign{ID: chi.URLParam(r, "id")}
	req.apply(&c)
	err := h.campaigns.Update(r.Context(), &c)
	if errors.Is(err, sql.ErrNoRows) {
		httputil.NotFound(w, "campaign not found or no longer editable")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c)
}

// GetCampaign handles GET /api/campaigns/{id}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if c == nil {
		httputil.NotFound(w, "campaign not found")
		return
	}
	httputil.OK(w, c)
}

// ListCampaigns handles GET /api/campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := domain.CampaignStatus(r.URL.Query().Get("status"))

	out, err := h.campaigns.List(r.Context(), status, limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": out})
}

// SendCampaign handles POST /api/campaigns/{id}/send. The dispatch itself
// runs in the background; the response only acknowledges the trigger.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.campaigns.GetByID(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if c == nil {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if c.IsTerminal() {
		httputil.BadRequest(w, "campaign already sent")
		return
	}

	lock := h.locks(id)
	acquired, err := lock.Acquire(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !acquired {
		httputil.Conflict(w, "campaign dispatch already in progress")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		defer func() {
			if err := lock.Release(ctx); err != nil {
				logger.Warn("dispatch lock release failed", "campaign_id", id, "error", err.Error())
			}
		}()
		if err := h.dispatcher.Run(ctx, id); err != nil {
			logger.Error("campaign dispatch failed", "campaign_id", id, "error", err.Error())
		}
	}()
	httputil.OK(w, map[string]string{"status": "dispatching", "campaign_id": id})
}

// GetCampaignStats handles GET /api/campaigns/{id}/stats.
func (h *Handlers) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// ListCampaignRecipients handles GET /api/campaigns/{id}/recipients.
func (h *Handlers) ListCampaignRecipients(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	out, err := h.recipients.ListForCampaign(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"recipients": out})
}

type ensureListRequest struct {
	Name    string  `json:"name"`
	Scope   string  `json:"scope"`
	EventID *string `json:"event_id"`
}

// EnsureList handles POST /api/lists (lookup-or-create).
func (h *Handlers) EnsureList(w http.ResponseWriter, r *http.Request) {
	var req ensureListRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	scope := domain.ListScope(req.Scope)
	if scope != domain.ListGlobal && scope != domain.ListEvent {
		httputil.BadRequest(w, "scope must be global or event")
		return
	}
	if scope == domain.ListEvent && req.EventID == nil {
		httputil.BadRequest(w, "event_id is required for event lists")
		return
	}

	list, err := h.audience.EnsureList(r.Context(), scope, req.EventID, req.Name)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, list)
}

type subscribeRequest struct {
	Email     string         `json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
}

// Subscribe handles POST /api/lists/{id}/subscribers.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	switch domain.SubscriptionStatus(req.Status) {
	case "", domain.SubscriptionPending, domain.SubscriptionSubscribed, domain.SubscriptionUnsubscribed:
	default:
		httputil.BadRequest(w, "status must be pending, subscribed or unsubscribed")
		return
	}

	sub, err := h.audience.Subscribe(r.Context(), audience.SubscribeInput{
		Email:     req.Email,
		ListID:    chi.URLParam(r, "id"),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Status:    domain.SubscriptionStatus(req.Status),
		Actor:     domain.ActorSubscriber,
		Metadata:  req.Metadata,
	})
	if errors.Is(err, audience.ErrEmptyEmail) {
		httputil.BadRequest(w, "email is required")
		return
	}
	if errors.Is(err, audience.ErrListNotFound) {
		httputil.NotFound(w, "list not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, sub)
}

// Webhook handles POST /webhooks/email. The response is always
// 200 {"status":"ok"}: a non-2xx would put the vendor into a retry storm,
// and signature failures already yield zero effective events.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	if err := h.ingester.Process(r.Context(), r); err != nil {
		logger.Warn("webhook processing error", "error", err.Error())
	}
	httputil.OK(w, map[string]string{"status": "ok"})
}

// Unsubscribe handles GET and POST /unsubscribe?token=... (POST for RFC 8058
// one-click).
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	claims, err := h.signer.Verify(r.URL.Query().Get("token"),
		string(domain.ScopeList), string(domain.ScopeAll))
	if err != nil {
		httputil.BadRequest(w, "invalid or expired link")
		return
	}

	if err := h.unsubscribeByClaims(r.Context(), claims); err != nil {
		if errors.Is(err, audience.ErrSubscriberNotFound) {
			httputil.NotFound(w, "subscription not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "unsubscribed"})
}

func (h *Handlers) unsubscribeByClaims(ctx context.Context, claims *LinkClaims) error {
	email, err := h.audience.EmailForSubscriber(ctx, claims.SubscriberID)
	if err != nil {
		return err
	}
	return h.audience.Unsubscribe(ctx, email, claims.Scope, claims.ListID, domain.ActorSubscriber)
}

// ConfirmSubscription handles GET /subscriptions/confirm?token=... for
// double opt-in.
func (h *Handlers) ConfirmSubscription(w http.ResponseWriter, r *http.Request) {
	claims, err := h.signer.Verify(r.URL.Query().Get("token"), "confirm")
	if err != nil {
		httputil.BadRequest(w, "invalid or expired link")
		return
	}

	if err := h.audience.ConfirmSubscription(r.Context(), claims.SubscriberID, claims.ListID); err != nil {
		if errors.Is(err, audience.ErrSubscriberNotFound) {
			httputil.NotFound(w, "subscription not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "subscribed"})
}
