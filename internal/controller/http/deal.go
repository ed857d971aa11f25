package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/policy"
	"github.com/vadim/dealroom/internal/domain/deal/service"
	"github.com/vadim/dealroom/internal/domain/identity"
	"github.com/vadim/dealroom/internal/httpx/auth"
	"github.com/vadim/dealroom/internal/httpx/response"
)

// DealPolicy defines the interface for deal operations
type DealPolicy interface {
	GetDeal(ctx context.Context, actor *identity.Identity, id string) (*policy.DealView, error)
	CreateDeal(ctx context.Context, actor *identity.Identity, in service.CreateInput) (*policy.DealView, error)
	Transition(ctx context.Context, actor *identity.Identity, in service.TransitionInput) (*policy.DealView, error)
	ListDeals(ctx context.Context, actor *identity.Identity, in policy.ListDealsInput) (*policy.ListDealsOutput, error)
	ListEvents(ctx context.Context, actor *identity.Identity, dealID string) ([]entity.LifecycleEvent, error)
}

// DealHandler handles HTTP requests for deals
type DealHandler struct {
	policy DealPolicy
	logger *slog.Logger
}

// NewDealHandler creates a new deal handler
func NewDealHandler(p DealPolicy, logger *slog.Logger) *DealHandler {
	return &DealHandler{policy: p, logger: logger}
}

// RegisterRoutes registers deal routes
func (h *DealHandler) RegisterRoutes(r chi.Router) {
	r.Post("/deals", h.CreateDeal())
	r.Get("/deals", h.ListDeals())
	r.Get("/deals/{dealId}", h.GetDeal())
	r.Post("/deals/{dealId}/transition", h.Transition())
	r.Get("/deals/{dealId}/events", h.ListEvents())

	// Deals of an influencer profile
	r.Get("/influencers/{influencerId}/deals", h.ListInfluencerDeals())
}

// CreateDealRequest represents the request body for opening a deal
type CreateDealRequest struct {
	CampaignID          string          `json:"campaign_id"`
	BrandID             string          `json:"brand_id"`
	InfluencerID        string          `json:"influencer_id"`
	Title               string          `json:"title"`
	CampaignTitle       string          `json:"campaign_title"`
	BrandName           string          `json:"brand_name"`
	InfluencerName      string          `json:"influencer_name"`
	DealType            entity.DealType `json:"deal_type"`
	TotalValue          decimal.Decimal `json:"total_value"`
	Currency            string          `json:"currency"`
	ApplicationDeadline time.Time       `json:"application_deadline"`
}

// CreateDeal handles POST /deals
func (h *DealHandler) CreateDeal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDealRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		view, err := h.policy.CreateDeal(r.Context(), auth.FromContext(r.Context()), service.CreateInput{
			CampaignID:          req.CampaignID,
			BrandID:             req.BrandID,
			InfluencerID:        req.InfluencerID,
			Title:               req.Title,
			CampaignTitle:       req.CampaignTitle,
			BrandName:           req.BrandName,
			InfluencerName:      req.InfluencerName,
			Type:                req.DealType,
			TotalValue:          req.TotalValue,
			Currency:            req.Currency,
			ApplicationDeadline: req.ApplicationDeadline,
		})
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.Created(w, view)
	}
}

// GetDeal handles GET /deals/{dealId}
func (h *DealHandler) GetDeal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.policy.GetDeal(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "dealId"))
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.OK(w, view)
	}
}

// TransitionRequest represents the request body for a status change
type TransitionRequest struct {
	TargetStatus string `json:"target_status"`
	Reason       string `json:"reason,omitempty"`
}

// Transition handles POST /deals/{dealId}/transition
func (h *DealHandler) Transition() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
		if req.TargetStatus == "" {
			badRequest(w, "target_status is required")
			return
		}

		view, err := h.policy.Transition(r.Context(), auth.FromContext(r.Context()), service.TransitionInput{
			DealID: chi.URLParam(r, "dealId"),
			Target: entity.DealStatus(req.TargetStatus),
			Reason: req.Reason,
		})
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.OK(w, view)
	}
}

// ListEvents handles GET /deals/{dealId}/events
func (h *DealHandler) ListEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := h.policy.ListEvents(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "dealId"))
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		response.OK(w, map[string]any{"events": events})
	}
}

// ListDeals handles GET /deals
func (h *DealHandler) ListDeals() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := parseListDeals(w, r)
		if !ok {
			return
		}
		h.list(w, r, in)
	}
}

// ListInfluencerDeals handles GET /influencers/{influencerId}/deals
func (h *DealHandler) ListInfluencerDeals() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := parseListDeals(w, r)
		if !ok {
			return
		}
		in.InfluencerID = chi.URLParam(r, "influencerId")
		h.list(w, r, in)
	}
}

func (h *DealHandler) list(w http.ResponseWriter, r *http.Request, in policy.ListDealsInput) {
	out, err := h.policy.ListDeals(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	response.OK(w, out)
}

func parseListDeals(w http.ResponseWriter, r *http.Request) (policy.ListDealsInput, bool) {
	q := r.URL.Query()
	in := policy.ListDealsInput{
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	}

	if s := q.Get("status"); s != "" {
		status, err := entity.ParseStatus(s)
		if err != nil {
			badRequest(w, "unknown status: "+s)
			return in, false
		}
		in.Status = &status
	}

	return in, true
}

// queryInt parses a non-negative integer query value, falling back to def
func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
