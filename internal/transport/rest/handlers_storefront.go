package rest

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/botguard"
	"github.com/popforge/popup-service/internal/service"
	"github.com/popforge/popup-service/internal/transport/rest/response"
)

// Storefront endpoints are public: the popup script on the shop's theme
// calls them without credentials. The shop is addressed by domain in the
// path and every decision is scoped to it.

func shopParam(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, "shop")))
}

type servedPopupJSON struct {
	Campaign  campaignJSON  `json:"campaign"`
	Frequency frequencyJSON `json:"frequency"`
}

func (h *Handler) ActivePopups(w http.ResponseWriter, r *http.Request) {
	shop := shopParam(r)
	if shop == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid shop", nil)
		return
	}
	visitorID := strings.TrimSpace(r.URL.Query().Get("visitor_id"))
	if visitorID == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "visitor_id is required", nil)
		return
	}

	popups, err := h.svc.ActivePopups(r.Context(), shop, visitorID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	items := make([]servedPopupJSON, 0, len(popups))
	for _, p := range popups {
		items = append(items, servedPopupJSON{
			Campaign:  toCampaignJSON(p.Campaign),
			Frequency: toFrequencyJSON(p.Frequency),
		})
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items": items,
		// The form field the popup script must render hidden; submissions
		// that fill it are treated as bots.
		"honeypot_field": "website",
	})
}

func (h *Handler) RecordImpression(w http.ResponseWriter, r *http.Request) {
	shop := shopParam(r)
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	var req struct {
		VisitorID string `json:"visitor_id"`
		SessionID string `json:"session_id"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	visitorID := strings.TrimSpace(req.VisitorID)
	if visitorID == "" {
		visitorID = strings.TrimSpace(req.SessionID)
	}
	if visitorID == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "visitor_id is required", nil)
		return
	}

	if err := h.svc.RecordImpression(r.Context(), shop, campaignID, visitorID); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{"msg": "recorded"})
}

type submitRequest struct {
	Email     string `json:"email"`
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
	// Honeypot field; real users never fill it, its name looks legitimate
	// to autofill bots.
	Website      string `json:"website"`
	PopupShownAt int64  `json:"popup_shown_at"`
}

func (h *Handler) SubmitLead(w http.ResponseWriter, r *http.Request) {
	shop := shopParam(r)
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	var req submitRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid email", map[string]string{
			"email": "must be a valid email address",
		})
		return
	}

	attempt := botguard.Attempt{
		CampaignID:   campaignID,
		VisitorID:    strings.TrimSpace(req.VisitorID),
		SessionID:    strings.TrimSpace(req.SessionID),
		Honeypot:     req.Website,
		PopupShownAt: req.PopupShownAt,
		IP:           clientIP(r),
	}

	result, err := h.svc.SubmitLead(r.Context(), shop, attempt, email)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	// The submission body is written raw: deflected bots must receive a
	// byte-shape identical to a real success.
	switch result.Kind {
	case service.SubmissionRejected:
		response.JSON(w, http.StatusBadRequest, result.Response)
	default:
		response.JSON(w, http.StatusOK, result.Response)
	}
}

type playRequest struct {
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id"`
	// Honeypot, same as submissions.
	Website      string `json:"website"`
	PopupShownAt int64  `json:"popup_shown_at"`
}

// PlayCampaign handles a gamified popup play (spin-to-win, scratch card).
// Plays are anonymous; the lead row is keyed by visitor until the visitor
// later submits an email.
func (h *Handler) PlayCampaign(w http.ResponseWriter, r *http.Request) {
	shop := shopParam(r)
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	var req playRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if strings.TrimSpace(req.VisitorID) == "" && strings.TrimSpace(req.SessionID) == "" {
		fail(w, r, http.StatusBadRequest, "request.invalid", "visitor_id is required", nil)
		return
	}

	attempt := botguard.Attempt{
		CampaignID:   campaignID,
		VisitorID:    strings.TrimSpace(req.VisitorID),
		SessionID:    strings.TrimSpace(req.SessionID),
		Honeypot:     req.Website,
		PopupShownAt: req.PopupShownAt,
		IP:           clientIP(r),
	}

	result, err := h.svc.PlayCampaign(r.Context(), shop, attempt)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	switch result.Kind {
	case service.SubmissionRejected:
		response.JSON(w, http.StatusBadRequest, result.Response)
	default:
		response.JSON(w, http.StatusOK, result.Response)
	}
}

func (h *Handler) UpsellProducts(w http.ResponseWriter, r *http.Request) {
	shop := shopParam(r)
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid campaignID", nil)
		return
	}

	products, err := h.svc.UpsellProducts(r.Context(), shop, campaignID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"items": products})
}
