package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/popforge/popup-service/internal/domain"
	"github.com/popforge/popup-service/internal/security"
)

type RouterDeps struct {
	Cache    domain.VisitorCache
	Handler  *Handler
	Verifier security.SessionTokenVerifier

	RateLimit RateLimitOptions
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Cache == nil {
		panic("rest.NewRouter: nil cache")
	}
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	r.Use(SecurityHeaders)

	// Admin API, called from the embedded app with a session token.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier))

		r.Post("/campaigns", d.Handler.CreateCampaign)
		r.Get("/campaigns", d.Handler.ListCampaigns)
		r.Get("/campaigns/{campaignID}", d.Handler.GetCampaign)
		r.Put("/campaigns/{campaignID}", d.Handler.UpdateCampaign)
		r.Delete("/campaigns/{campaignID}", d.Handler.DeleteCampaign)
		r.Get("/campaigns/{campaignID}/stats", d.Handler.CampaignStats)

		r.Post("/experiments", d.Handler.CreateExperiment)
		r.Get("/experiments/{experimentID}", d.Handler.GetExperiment)
		r.Get("/experiments/{experimentID}/results", d.Handler.ExperimentResults)

		r.Get("/leads", d.Handler.ListLeads)
	})

	// Storefront API, called from shop themes without credentials.
	r.Route("/storefront/v1/{shop}", func(r chi.Router) {
		r.Use(RateLimitMiddleware(d.Cache, d.RateLimit))

		r.Get("/popups", d.Handler.ActivePopups)
		r.Post("/popups/{campaignID}/impression", d.Handler.RecordImpression)
		r.Post("/popups/{campaignID}/play", d.Handler.PlayCampaign)
		r.Post("/popups/{campaignID}/submit", d.Handler.SubmitLead)
		r.Get("/popups/{campaignID}/products", d.Handler.UpsellProducts)
	})

	return r
}
