package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/audit"
	"github.com/popforge/popup-service/internal/botguard"
	"github.com/popforge/popup-service/internal/domain"
	"github.com/popforge/popup-service/internal/experiment"
	"github.com/popforge/popup-service/internal/pkg/logger"
	"github.com/popforge/popup-service/internal/shopify"
)

// DiscountIssuer creates a real one-use discount code for a shop.
type DiscountIssuer interface {
	CreateDiscountCode(ctx context.Context, shop, prefix string, percentage, expiresInDays int) (string, error)
}

// ProductRecommender resolves products for the upsell popup.
type ProductRecommender interface {
	RecommendProducts(ctx context.Context, shop, anchorProductID string, limit int) ([]shopify.Product, error)
}

type PopupService struct {
	repo      domain.CampaignRepository
	cache     domain.VisitorCache
	validator *botguard.Validator
	discounts DiscountIssuer
	products  ProductRecommender
	publisher domain.EventPublisher
	audit     *audit.Logger
}

func NewPopupService(
	repo domain.CampaignRepository,
	cache domain.VisitorCache,
	validator *botguard.Validator,
	discounts DiscountIssuer,
	products ProductRecommender,
	publisher domain.EventPublisher,
	auditLog *audit.Logger,
) *PopupService {
	return &PopupService{
		repo:      repo,
		cache:     cache,
		validator: validator,
		discounts: discounts,
		products:  products,
		publisher: publisher,
		audit:     auditLog,
	}
}

// --- Campaign CRUD (admin) ---

func (s *PopupService) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := c.Content.Validate(c.TemplateType); err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.StatusDraft
	}
	return s.repo.CreateCampaign(ctx, c)
}

func (s *PopupService) GetCampaign(ctx context.Context, shop string, id uuid.UUID) (domain.Campaign, error) {
	return s.repo.GetCampaign(ctx, shop, id)
}

func (s *PopupService) ListCampaigns(ctx context.Context, shop string, status *domain.CampaignStatus) ([]domain.Campaign, error) {
	return s.repo.ListCampaigns(ctx, shop, status)
}

// UpdateCampaign persists edits to a campaign. When the campaign belongs to
// an experiment and the goal changed, the edit must come through the control
// variant; the control's edit and the sibling goal rewrite then go through
// one repository transaction, so variants cannot drift onto different goals
// even when the write fails partway.
func (s *PopupService) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := c.Content.Validate(c.TemplateType); err != nil {
		return err
	}

	existing, err := s.repo.GetCampaign(ctx, c.Shop, c.ID)
	if err != nil {
		return err
	}

	goalChanged := existing.ExperimentID != nil && c.Goal != existing.Goal
	if goalChanged && !existing.IsControl {
		return domain.ErrNotControlVariant
	}

	if goalChanged {
		if err := s.repo.UpdateCampaignAndPropagateGoal(ctx, c, *existing.ExperimentID); err != nil {
			return err
		}
		s.audit.GoalPropagated(ctx, c.Shop, *existing.ExperimentID, c.Goal)
		return nil
	}

	return s.repo.UpdateCampaign(ctx, c)
}

func (s *PopupService) DeleteCampaign(ctx context.Context, shop string, id uuid.UUID) error {
	return s.repo.DeleteCampaign(ctx, shop, id)
}

func (s *PopupService) CampaignStats(ctx context.Context, shop string, id uuid.UUID) (domain.CampaignStats, error) {
	if _, err := s.repo.GetCampaign(ctx, shop, id); err != nil {
		return domain.CampaignStats{}, err
	}
	stats, err := s.repo.GetStats(ctx, []uuid.UUID{id})
	if err != nil {
		return domain.CampaignStats{}, err
	}
	st := stats[id]
	st.CampaignID = id
	return st, nil
}

// --- Experiments (admin) ---

func (s *PopupService) CreateExperiment(ctx context.Context, exp *domain.Experiment, variants []*domain.Campaign) error {
	if err := experiment.ValidateVariants(variants, exp.TrafficAllocation); err != nil {
		return err
	}
	for _, v := range variants {
		if err := v.Content.Validate(v.TemplateType); err != nil {
			return err
		}
	}

	if exp.ID == uuid.Nil {
		exp.ID = uuid.New()
	}
	for _, v := range variants {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.Shop = exp.Shop
		eid := exp.ID
		v.ExperimentID = &eid
		if v.Status == "" {
			v.Status = domain.StatusDraft
		}
	}

	if err := s.repo.CreateExperiment(ctx, exp, variants); err != nil {
		return err
	}
	s.audit.ExperimentCreated(ctx, exp.Shop, exp.ID, len(variants))
	return nil
}

func (s *PopupService) GetExperiment(ctx context.Context, shop string, id uuid.UUID) (domain.Experiment, []domain.Campaign, error) {
	exp, err := s.repo.GetExperiment(ctx, shop, id)
	if err != nil {
		return domain.Experiment{}, nil, err
	}
	variants, err := s.repo.ListVariants(ctx, shop, id)
	if err != nil {
		return domain.Experiment{}, nil, err
	}
	return exp, variants, nil
}

// ExperimentResults reads the per-variant counters and computes conversion
// rates, Wilson intervals and significance against the control.
func (s *PopupService) ExperimentResults(ctx context.Context, shop string, id uuid.UUID) ([]experiment.VariantResult, error) {
	variants, err := s.repo.ListVariants(ctx, shop, id)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(variants))
	for _, v := range variants {
		ids = append(ids, v.ID)
	}
	stats, err := s.repo.GetStats(ctx, ids)
	if err != nil {
		return nil, err
	}
	return experiment.Summarize(variants, stats), nil
}

// --- Leads (admin) ---

func (s *PopupService) ListLeads(ctx context.Context, shop string, campaignID *uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Lead, *domain.KeysetCursor, error) {
	return s.repo.ListLeads(ctx, shop, campaignID, limit, cursor)
}

// publish is best-effort: broker failures are logged, never surfaced.
func (s *PopupService) publish(ctx context.Context, routingKey string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, routingKey, payload); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
	}
}
