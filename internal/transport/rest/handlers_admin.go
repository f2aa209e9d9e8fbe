package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/domain"
	"github.com/popforge/popup-service/internal/experiment"
	appCtx "github.com/popforge/popup-service/internal/pkg/context"
	"github.com/popforge/popup-service/internal/service"
	"github.com/popforge/popup-service/internal/transport/rest/response"
)

type Handler struct {
	svc *service.PopupService
}

func NewHandler(svc *service.PopupService) *Handler {
	return &Handler{svc: svc}
}

// --- wire shapes ---

type frequencyJSON struct {
	Enabled               bool  `json:"enabled"`
	MaxTriggersPerSession int   `json:"max_triggers_per_session"`
	MaxTriggersPerDay     int   `json:"max_triggers_per_day"`
	CooldownSeconds       int64 `json:"cooldown_seconds,omitempty"`
	RespectGlobalCap      bool  `json:"respect_global_cap"`
}

func toFrequencyJSON(p domain.FrequencyPolicy) frequencyJSON {
	return frequencyJSON{
		Enabled:               p.Enabled,
		MaxTriggersPerSession: p.MaxTriggersPerSession,
		MaxTriggersPerDay:     p.MaxTriggersPerDay,
		CooldownSeconds:       int64(p.CooldownBetweenTriggers / time.Second),
		RespectGlobalCap:      p.RespectGlobalCap,
	}
}

type campaignJSON struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	TemplateType domain.TemplateType    `json:"template_type"`
	Goal         domain.CampaignGoal    `json:"goal"`
	Status       domain.CampaignStatus  `json:"status"`
	Priority     int                    `json:"priority"`
	Content      domain.CampaignContent `json:"content"`
	TargetRules  domain.TargetRules     `json:"target_rules"`

	ExperimentID *uuid.UUID        `json:"experiment_id,omitempty"`
	VariantKey   domain.VariantKey `json:"variant_key,omitempty"`
	IsControl    bool              `json:"is_control,omitempty"`

	Frequency frequencyJSON `json:"frequency"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCampaignJSON(c domain.Campaign) campaignJSON {
	return campaignJSON{
		ID:           c.ID,
		Name:         c.Name,
		TemplateType: c.TemplateType,
		Goal:         c.Goal,
		Status:       c.Status,
		Priority:     c.Priority,
		Content:      c.Content,
		TargetRules:  c.TargetRules,
		ExperimentID: c.ExperimentID,
		VariantKey:   c.VariantKey,
		IsControl:    c.IsControl,
		Frequency:    toFrequencyJSON(domain.FrequencyCappingDefaults(c.TemplateType)),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toCampaignList(cs []domain.Campaign) []campaignJSON {
	out := make([]campaignJSON, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCampaignJSON(c))
	}
	return out
}

type campaignRequest struct {
	Name         string                 `json:"name"`
	TemplateType string                 `json:"template_type"`
	Goal         string                 `json:"goal"`
	Status       string                 `json:"status"`
	Priority     int                    `json:"priority"`
	Content      domain.CampaignContent `json:"content"`
	TargetRules  domain.TargetRules     `json:"target_rules"`
}

func (req campaignRequest) toDomain(shop string) *domain.Campaign {
	return &domain.Campaign{
		Shop:         shop,
		Name:         strings.TrimSpace(req.Name),
		TemplateType: domain.TemplateType(req.TemplateType),
		Goal:         domain.CampaignGoal(req.Goal),
		Status:       domain.CampaignStatus(req.Status),
		Priority:     req.Priority,
		Content:      req.Content,
		TargetRules:  req.TargetRules,
	}
}

// --- campaigns ---

func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req campaignRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "name is required", map[string]string{
			"name": "must not be empty",
		})
		return
	}

	c := req.toDomain(auth.Shop)
	if err := h.svc.CreateCampaign(r.Context(), c); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusCreated, toCampaignJSON(*c))
}

func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var status *domain.CampaignStatus
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		st := domain.CampaignStatus(s)
		status = &st
	}

	items, err := h.svc.ListCampaigns(r.Context(), auth.Shop, status)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": toCampaignList(items)})
}

func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	c, err := h.svc.GetCampaign(r.Context(), auth.Shop, id)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toCampaignJSON(c))
}

func (h *Handler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	var req campaignRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	c := req.toDomain(auth.Shop)
	c.ID = id
	if err := h.svc.UpdateCampaign(r.Context(), c); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toCampaignJSON(*c))
}

func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	if err := h.svc.DeleteCampaign(r.Context(), auth.Shop, id); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{"msg": "deleted"})
}

func (h *Handler) CampaignStats(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	st, err := h.svc.CampaignStats(r.Context(), auth.Shop, id)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	var rate float64
	if st.Impressions > 0 {
		rate = float64(st.Conversions) / float64(st.Impressions)
	}
	response.Data(w, http.StatusOK, map[string]any{
		"campaign_id":     st.CampaignID,
		"impressions":     st.Impressions,
		"conversions":     st.Conversions,
		"conversion_rate": rate,
	})
}

// --- experiments ---

type experimentRequest struct {
	Name              string         `json:"name"`
	TrafficAllocation map[string]int `json:"traffic_allocation"`
	Variants          []struct {
		campaignRequest
		VariantKey string `json:"variant_key"`
		IsControl  bool   `json:"is_control"`
	} `json:"variants"`
}

func (h *Handler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var req experimentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	alloc := make(map[domain.VariantKey]int, len(req.TrafficAllocation))
	for k, pct := range req.TrafficAllocation {
		alloc[domain.VariantKey(k)] = pct
	}

	exp := &domain.Experiment{
		Shop:              auth.Shop,
		Name:              strings.TrimSpace(req.Name),
		TrafficAllocation: alloc,
	}
	variants := make([]*domain.Campaign, 0, len(req.Variants))
	for _, v := range req.Variants {
		c := v.toDomain(auth.Shop)
		c.VariantKey = domain.VariantKey(v.VariantKey)
		c.IsControl = v.IsControl
		variants = append(variants, c)
	}

	if err := h.svc.CreateExperiment(r.Context(), exp, variants); err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusCreated, map[string]any{
		"id":                 exp.ID,
		"name":               exp.Name,
		"traffic_allocation": exp.TrafficAllocation,
		"variants":           toCampaignList(deref(variants)),
	})
}

func (h *Handler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "experimentID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid experimentID", nil)
		return
	}

	exp, variants, err := h.svc.GetExperiment(r.Context(), auth.Shop, id)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"id":                 exp.ID,
		"name":               exp.Name,
		"traffic_allocation": exp.TrafficAllocation,
		"created_at":         exp.CreatedAt,
		"variants":           toCampaignList(variants),
	})
}

func (h *Handler) ExperimentResults(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "experimentID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid experimentID", nil)
		return
	}

	results, err := h.svc.ExperimentResults(r.Context(), auth.Shop, id)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"variants": results})
}

// --- leads ---

func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetShopAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	var campaignID *uuid.UUID
	if s := strings.TrimSpace(r.URL.Query().Get("campaign_id")); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaign_id", nil)
			return
		}
		campaignID = &id
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid cursor", nil)
		return
	}

	items, next, err := h.svc.ListLeads(r.Context(), auth.Shop, campaignID, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	leads := make([]map[string]any, 0, len(items))
	for _, l := range items {
		leads = append(leads, map[string]any{
			"id":            l.ID,
			"campaign_id":   l.CampaignID,
			"email":         l.Email,
			"discount_code": l.DiscountCode,
			"created_at":    l.CreatedAt,
		})
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items":       leads,
		"next_cursor": encodeCursor(next),
	})
}

// --- shared helpers ---

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrContentInvalid):
		fail(w, r, http.StatusBadRequest, "campaign.content_invalid", err.Error(), nil)

	case errors.Is(err, experiment.ErrVariantCount),
		errors.Is(err, experiment.ErrControlNotA),
		errors.Is(err, experiment.ErrVariantKeyDup),
		errors.Is(err, experiment.ErrVariantKeyBad),
		errors.Is(err, experiment.ErrAllocationSum),
		errors.Is(err, experiment.ErrAllocationKey),
		errors.Is(err, domain.ErrVariantGoalDrift):
		fail(w, r, http.StatusBadRequest, "experiment.invalid", err.Error(), nil)

	case errors.Is(err, domain.ErrNotControlVariant):
		fail(w, r, http.StatusConflict, "experiment.goal_control_only", err.Error(), nil)

	case errors.Is(err, domain.ErrCampaignNotFound):
		fail(w, r, http.StatusNotFound, "campaign.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrExperimentNotFound):
		fail(w, r, http.StatusNotFound, "experiment.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrLeadNotFound):
		fail(w, r, http.StatusNotFound, "lead.not_found", err.Error(), nil)

	case errors.Is(err, domain.ErrForbidden):
		fail(w, r, http.StatusForbidden, "auth.forbidden", err.Error(), nil)

	default:
		// Do not leak internal details.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func parseLimit(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 20
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 20
	}
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}

func deref(cs []*domain.Campaign) []domain.Campaign {
	out := make([]domain.Campaign, 0, len(cs))
	for _, c := range cs {
		out = append(out, *c)
	}
	return out
}
