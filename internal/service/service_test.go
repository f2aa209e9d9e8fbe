package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/audit"
	"github.com/popforge/popup-service/internal/botguard"
	"github.com/popforge/popup-service/internal/domain"
	"github.com/popforge/popup-service/internal/experiment"
	"github.com/popforge/popup-service/internal/service"
	"github.com/popforge/popup-service/internal/shopify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}
func (m *MockRepo) GetCampaign(ctx context.Context, shop string, id uuid.UUID) (domain.Campaign, error) {
	args := m.Called(ctx, shop, id)
	return args.Get(0).(domain.Campaign), args.Error(1)
}
func (m *MockRepo) ListCampaigns(ctx context.Context, shop string, status *domain.CampaignStatus) ([]domain.Campaign, error) {
	args := m.Called(ctx, shop, status)
	var out []domain.Campaign
	if v := args.Get(0); v != nil {
		out = v.([]domain.Campaign)
	}
	return out, args.Error(1)
}
func (m *MockRepo) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	return m.Called(ctx, c).Error(0)
}
func (m *MockRepo) DeleteCampaign(ctx context.Context, shop string, id uuid.UUID) error {
	return m.Called(ctx, shop, id).Error(0)
}
func (m *MockRepo) ActiveCampaigns(ctx context.Context, shop string) ([]domain.Campaign, error) {
	args := m.Called(ctx, shop)
	var out []domain.Campaign
	if v := args.Get(0); v != nil {
		out = v.([]domain.Campaign)
	}
	return out, args.Error(1)
}
func (m *MockRepo) CreateExperiment(ctx context.Context, exp *domain.Experiment, variants []*domain.Campaign) error {
	return m.Called(ctx, exp, variants).Error(0)
}
func (m *MockRepo) GetExperiment(ctx context.Context, shop string, id uuid.UUID) (domain.Experiment, error) {
	args := m.Called(ctx, shop, id)
	return args.Get(0).(domain.Experiment), args.Error(1)
}
func (m *MockRepo) ListVariants(ctx context.Context, shop string, experimentID uuid.UUID) ([]domain.Campaign, error) {
	args := m.Called(ctx, shop, experimentID)
	var out []domain.Campaign
	if v := args.Get(0); v != nil {
		out = v.([]domain.Campaign)
	}
	return out, args.Error(1)
}
func (m *MockRepo) UpdateCampaignAndPropagateGoal(ctx context.Context, c *domain.Campaign, experimentID uuid.UUID) error {
	return m.Called(ctx, c, experimentID).Error(0)
}
func (m *MockRepo) UpsertLead(ctx context.Context, l *domain.Lead) (bool, error) {
	args := m.Called(ctx, l)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepo) GetLeadByEmail(ctx context.Context, shop string, campaignID uuid.UUID, email string) (domain.Lead, error) {
	args := m.Called(ctx, shop, campaignID, email)
	return args.Get(0).(domain.Lead), args.Error(1)
}
func (m *MockRepo) ListLeads(ctx context.Context, shop string, campaignID *uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Lead, *domain.KeysetCursor, error) {
	args := m.Called(ctx, shop, campaignID, limit, cursor)
	var leads []domain.Lead
	if v := args.Get(0); v != nil {
		leads = v.([]domain.Lead)
	}
	var next *domain.KeysetCursor
	if v := args.Get(1); v != nil {
		next = v.(*domain.KeysetCursor)
	}
	return leads, next, args.Error(2)
}
func (m *MockRepo) IncrImpression(ctx context.Context, campaignID uuid.UUID) error {
	return m.Called(ctx, campaignID).Error(0)
}
func (m *MockRepo) IncrConversion(ctx context.Context, campaignID uuid.UUID) error {
	return m.Called(ctx, campaignID).Error(0)
}
func (m *MockRepo) GetStats(ctx context.Context, campaignIDs []uuid.UUID) (map[uuid.UUID]domain.CampaignStats, error) {
	args := m.Called(ctx, campaignIDs)
	var out map[uuid.UUID]domain.CampaignStats
	if v := args.Get(0); v != nil {
		out = v.(map[uuid.UUID]domain.CampaignStats)
	}
	return out, args.Error(1)
}

// fakeCache is a canned-answer VisitorCache.
type fakeCache struct {
	hasImpression bool
	session, day  int
	inCooldown    bool

	recorded  []uuid.UUID
	triggered []time.Duration
}

func (f *fakeCache) RecordImpression(_ context.Context, _ string, campaignID uuid.UUID) {
	f.recorded = append(f.recorded, campaignID)
}
func (f *fakeCache) HasImpression(_ context.Context, _ string, _ uuid.UUID) bool {
	return f.hasImpression
}
func (f *fakeCache) TriggerCounts(_ context.Context, _ string, _ uuid.UUID) (int, int, bool) {
	return f.session, f.day, f.inCooldown
}
func (f *fakeCache) MarkTriggered(_ context.Context, _ string, _ uuid.UUID, cooldown time.Duration) {
	f.triggered = append(f.triggered, cooldown)
}
func (f *fakeCache) AllowRequest(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return true, nil
}

type fakeDiscounts struct {
	code string
	err  error

	calls int
}

func (f *fakeDiscounts) CreateDiscountCode(_ context.Context, _, _ string, _, _ int) (string, error) {
	f.calls++
	return f.code, f.err
}

type fakeProducts struct {
	products []shopify.Product
	err      error
}

func (f *fakeProducts) RecommendProducts(_ context.Context, _, _ string, _ int) ([]shopify.Product, error) {
	return f.products, f.err
}

type capturedEvent struct {
	routingKey string
	payload    any
}

type fakePublisher struct {
	events []capturedEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, capturedEvent{routingKey: routingKey, payload: payload})
	return nil
}

type fixture struct {
	repo      *MockRepo
	cache     *fakeCache
	discounts *fakeDiscounts
	products  *fakeProducts
	publisher *fakePublisher
	svc       *service.PopupService

	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:      &MockRepo{},
		cache:     &fakeCache{hasImpression: true},
		discounts: &fakeDiscounts{code: "SAVE-REAL1234"},
		products:  &fakeProducts{},
		publisher: &fakePublisher{},
		now:       time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}

	validator := botguard.NewValidator(f.cache)
	validator.Now = func() time.Time { return f.now }

	f.svc = service.NewPopupService(
		f.repo, f.cache, validator,
		f.discounts, f.products,
		f.publisher, audit.New(zerolog.Nop()),
	)
	return f
}

func newsletterContent() domain.CampaignContent {
	return domain.CampaignContent{
		Headline: "Join our list",
		Discount: &domain.DiscountConfig{Prefix: "SAVE", Percentage: 10, ExpiresInDays: 30},
	}
}

func TestCreateCampaign(t *testing.T) {
	t.Run("valid content persists with defaults", func(t *testing.T) {
		f := newFixture(t)
		c := &domain.Campaign{
			Shop:         "my-store.myshopify.com",
			Name:         "Welcome",
			TemplateType: domain.TemplateNewsletter,
			Goal:         domain.GoalNewsletterSignup,
			Content:      newsletterContent(),
		}
		f.repo.On("CreateCampaign", mock.Anything, c).Return(nil)

		err := f.svc.CreateCampaign(context.Background(), c)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, c.ID)
		assert.Equal(t, domain.StatusDraft, c.Status)
		f.repo.AssertExpectations(t)
	})

	t.Run("invalid content never reaches the store", func(t *testing.T) {
		f := newFixture(t)
		c := &domain.Campaign{
			Shop:         "my-store.myshopify.com",
			TemplateType: domain.TemplateSpinToWin,
			Content:      domain.CampaignContent{Headline: "Spin!"},
		}

		err := f.svc.CreateCampaign(context.Background(), c)
		assert.ErrorIs(t, err, domain.ErrContentInvalid)
		f.repo.AssertNotCalled(t, "CreateCampaign", mock.Anything, mock.Anything)
	})
}

func TestUpdateCampaign_GoalPropagation(t *testing.T) {
	shop := "my-store.myshopify.com"
	expID := uuid.New()

	variant := func(key domain.VariantKey, control bool) domain.Campaign {
		return domain.Campaign{
			ID:           uuid.New(),
			Shop:         shop,
			TemplateType: domain.TemplateNewsletter,
			Goal:         domain.GoalNewsletterSignup,
			Content:      newsletterContent(),
			ExperimentID: &expID,
			VariantKey:   key,
			IsControl:    control,
		}
	}

	t.Run("goal edit through a non-control variant is refused", func(t *testing.T) {
		f := newFixture(t)
		existing := variant(domain.VariantB, false)
		f.repo.On("GetCampaign", mock.Anything, shop, existing.ID).Return(existing, nil)

		edited := existing
		edited.Goal = domain.GoalIncreaseRevenue

		err := f.svc.UpdateCampaign(context.Background(), &edited)
		assert.ErrorIs(t, err, domain.ErrNotControlVariant)
		f.repo.AssertNotCalled(t, "UpdateCampaign", mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "UpdateCampaignAndPropagateGoal", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("goal edit through the control propagates to all variants", func(t *testing.T) {
		f := newFixture(t)
		existing := variant(domain.VariantA, true)
		f.repo.On("GetCampaign", mock.Anything, shop, existing.ID).Return(existing, nil)
		f.repo.On("UpdateCampaignAndPropagateGoal", mock.Anything, mock.Anything, expID).Return(nil)

		edited := existing
		edited.Goal = domain.GoalIncreaseRevenue

		err := f.svc.UpdateCampaign(context.Background(), &edited)
		require.NoError(t, err)
		f.repo.AssertNotCalled(t, "UpdateCampaign", mock.Anything, mock.Anything)
		f.repo.AssertExpectations(t)
	})

	t.Run("failed propagation leaves no standalone campaign write", func(t *testing.T) {
		f := newFixture(t)
		existing := variant(domain.VariantA, true)
		f.repo.On("GetCampaign", mock.Anything, shop, existing.ID).Return(existing, nil)
		f.repo.On("UpdateCampaignAndPropagateGoal", mock.Anything, mock.Anything, expID).Return(assert.AnError)

		edited := existing
		edited.Goal = domain.GoalIncreaseRevenue

		err := f.svc.UpdateCampaign(context.Background(), &edited)
		assert.ErrorIs(t, err, assert.AnError)

		// The goal change rides a single transactional repository call;
		// there is no separate UpdateCampaign that could commit the
		// control's goal on its own before propagation fails.
		f.repo.AssertNotCalled(t, "UpdateCampaign", mock.Anything, mock.Anything)
	})

	t.Run("non-goal edits on a variant need no propagation", func(t *testing.T) {
		f := newFixture(t)
		existing := variant(domain.VariantB, false)
		f.repo.On("GetCampaign", mock.Anything, shop, existing.ID).Return(existing, nil)
		f.repo.On("UpdateCampaign", mock.Anything, mock.Anything).Return(nil)

		edited := existing
		edited.Name = "Renamed"

		err := f.svc.UpdateCampaign(context.Background(), &edited)
		require.NoError(t, err)
		f.repo.AssertNotCalled(t, "UpdateCampaignAndPropagateGoal", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCreateExperiment(t *testing.T) {
	shop := "my-store.myshopify.com"

	makeVariant := func(key domain.VariantKey, control bool) *domain.Campaign {
		return &domain.Campaign{
			TemplateType: domain.TemplateNewsletter,
			Goal:         domain.GoalNewsletterSignup,
			Content:      newsletterContent(),
			VariantKey:   key,
			IsControl:    control,
		}
	}

	t.Run("allocation must sum to 100", func(t *testing.T) {
		f := newFixture(t)
		exp := &domain.Experiment{
			Shop: shop, Name: "hero copy",
			TrafficAllocation: map[domain.VariantKey]int{domain.VariantA: 50, domain.VariantB: 49},
		}

		err := f.svc.CreateExperiment(context.Background(), exp, []*domain.Campaign{
			makeVariant(domain.VariantA, true),
			makeVariant(domain.VariantB, false),
		})
		assert.ErrorIs(t, err, experiment.ErrAllocationSum)
		f.repo.AssertNotCalled(t, "CreateExperiment", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("valid experiment stamps ids and membership", func(t *testing.T) {
		f := newFixture(t)
		exp := &domain.Experiment{
			Shop: shop, Name: "hero copy",
			TrafficAllocation: map[domain.VariantKey]int{domain.VariantA: 50, domain.VariantB: 50},
		}
		variants := []*domain.Campaign{
			makeVariant(domain.VariantA, true),
			makeVariant(domain.VariantB, false),
		}
		f.repo.On("CreateExperiment", mock.Anything, exp, variants).Return(nil)

		err := f.svc.CreateExperiment(context.Background(), exp, variants)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, exp.ID)
		for _, v := range variants {
			assert.NotEqual(t, uuid.Nil, v.ID)
			require.NotNil(t, v.ExperimentID)
			assert.Equal(t, exp.ID, *v.ExperimentID)
			assert.Equal(t, shop, v.Shop)
		}
		f.repo.AssertExpectations(t)
	})
}

func TestExperimentResults(t *testing.T) {
	f := newFixture(t)
	shop := "my-store.myshopify.com"
	expID := uuid.New()

	a := domain.Campaign{ID: uuid.New(), VariantKey: domain.VariantA, IsControl: true}
	b := domain.Campaign{ID: uuid.New(), VariantKey: domain.VariantB}

	f.repo.On("ListVariants", mock.Anything, shop, expID).Return([]domain.Campaign{b, a}, nil)
	f.repo.On("GetStats", mock.Anything, mock.Anything).Return(map[uuid.UUID]domain.CampaignStats{
		a.ID: {Impressions: 1000, Conversions: 50},
		b.ID: {Impressions: 1000, Conversions: 80},
	}, nil)

	results, err := f.svc.ExperimentResults(context.Background(), shop, expID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, domain.VariantA, results[0].Key)
	assert.True(t, results[0].IsControl)
	assert.InDelta(t, 0.05, results[0].Rate, 1e-9)
	assert.Equal(t, 0.5, results[0].ConfidenceVsControl)

	assert.Equal(t, domain.VariantB, results[1].Key)
	assert.InDelta(t, 0.08, results[1].Rate, 1e-9)
	assert.Greater(t, results[1].ConfidenceVsControl, 0.95)
}

func TestCampaignStats(t *testing.T) {
	f := newFixture(t)
	shop := "my-store.myshopify.com"
	id := uuid.New()

	f.repo.On("GetCampaign", mock.Anything, shop, id).Return(domain.Campaign{ID: id, Shop: shop}, nil)
	f.repo.On("GetStats", mock.Anything, []uuid.UUID{id}).Return(map[uuid.UUID]domain.CampaignStats{
		id: {Impressions: 42, Conversions: 7},
	}, nil)

	st, err := f.svc.CampaignStats(context.Background(), shop, id)
	require.NoError(t, err)
	assert.Equal(t, id, st.CampaignID)
	assert.Equal(t, int64(42), st.Impressions)
	assert.Equal(t, int64(7), st.Conversions)
}
