package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type TemplateType string

const (
	TemplateNewsletter      TemplateType = "NEWSLETTER"
	TemplateSpinToWin       TemplateType = "SPIN_TO_WIN"
	TemplateScratchCard     TemplateType = "SCRATCH_CARD"
	TemplateFlashSale       TemplateType = "FLASH_SALE"
	TemplateCartAbandonment TemplateType = "CART_ABANDONMENT"
	TemplateFreeShipping    TemplateType = "FREE_SHIPPING"
	TemplateAnnouncement    TemplateType = "ANNOUNCEMENT"
	TemplateSocialProof     TemplateType = "SOCIAL_PROOF"
	TemplateProductUpsell   TemplateType = "PRODUCT_UPSELL"
)

// TemplateTypes lists every known template type. The frequency policy table
// must stay total over this slice.
var TemplateTypes = []TemplateType{
	TemplateNewsletter,
	TemplateSpinToWin,
	TemplateScratchCard,
	TemplateFlashSale,
	TemplateCartAbandonment,
	TemplateFreeShipping,
	TemplateAnnouncement,
	TemplateSocialProof,
	TemplateProductUpsell,
}

type CampaignGoal string

const (
	GoalNewsletterSignup  CampaignGoal = "NEWSLETTER_SIGNUP"
	GoalIncreaseRevenue   CampaignGoal = "INCREASE_REVENUE"
	GoalReduceAbandonment CampaignGoal = "REDUCE_ABANDONMENT"
	GoalPromoteProduct    CampaignGoal = "PROMOTE_PRODUCT"
)

type CampaignStatus string

const (
	StatusDraft    CampaignStatus = "draft"
	StatusActive   CampaignStatus = "active"
	StatusPaused   CampaignStatus = "paused"
	StatusArchived CampaignStatus = "archived"
)

type VariantKey string

const (
	VariantA VariantKey = "A"
	VariantB VariantKey = "B"
	VariantC VariantKey = "C"
	VariantD VariantKey = "D"
)

var (
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrLeadNotFound       = errors.New("lead not found")

	ErrNotControlVariant = errors.New("goal is only editable through the control variant")
	ErrVariantGoalDrift  = errors.New("experiment variants must share one goal")

	ErrCacheMiss = errors.New("cache miss")
	ErrForbidden = errors.New("forbidden")
)

type TargetRules struct {
	EnhancedTriggers  bool   `json:"enhanced_triggers"`
	AudienceTargeting string `json:"audience_targeting,omitempty"`
}

type Campaign struct {
	ID   uuid.UUID
	Shop string

	Name         string
	TemplateType TemplateType
	Goal         CampaignGoal
	Status       CampaignStatus
	Priority     int

	Content     CampaignContent
	TargetRules TargetRules

	// A/B experiment membership; nil ExperimentID means standalone.
	ExperimentID *uuid.UUID
	VariantKey   VariantKey
	IsControl    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Experiment struct {
	ID   uuid.UUID
	Shop string
	Name string

	TrafficAllocation map[VariantKey]int
	SuccessMetrics    []string

	CreatedAt time.Time
}

type Lead struct {
	ID         uuid.UUID
	Shop       string
	CampaignID uuid.UUID

	Email        string
	VisitorID    string
	DiscountCode string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type CampaignStats struct {
	CampaignID  uuid.UUID
	Impressions int64
	Conversions int64
}

type KeysetCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CampaignRepository is the authoritative relational store for campaigns,
// experiments, leads and per-campaign counters.
type CampaignRepository interface {
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, shop string, id uuid.UUID) (Campaign, error)
	ListCampaigns(ctx context.Context, shop string, status *CampaignStatus) ([]Campaign, error)
	UpdateCampaign(ctx context.Context, c *Campaign) error
	DeleteCampaign(ctx context.Context, shop string, id uuid.UUID) error
	ActiveCampaigns(ctx context.Context, shop string) ([]Campaign, error)

	CreateExperiment(ctx context.Context, exp *Experiment, variants []*Campaign) error
	GetExperiment(ctx context.Context, shop string, id uuid.UUID) (Experiment, error)
	ListVariants(ctx context.Context, shop string, experimentID uuid.UUID) ([]Campaign, error)
	// UpdateCampaignAndPropagateGoal saves the control variant's edits and
	// rewrites every sibling's goal in one transaction; sibling goals are
	// never observable half-updated.
	UpdateCampaignAndPropagateGoal(ctx context.Context, c *Campaign, experimentID uuid.UUID) error

	// UpsertLead reports whether a new row was created; resubmissions and
	// anonymous-play upgrades collapse into the existing row and report false.
	UpsertLead(ctx context.Context, l *Lead) (created bool, err error)
	GetLeadByEmail(ctx context.Context, shop string, campaignID uuid.UUID, email string) (Lead, error)
	ListLeads(ctx context.Context, shop string, campaignID *uuid.UUID, limit int, cursor *KeysetCursor) ([]Lead, *KeysetCursor, error)

	IncrImpression(ctx context.Context, campaignID uuid.UUID) error
	IncrConversion(ctx context.Context, campaignID uuid.UUID) error
	GetStats(ctx context.Context, campaignIDs []uuid.UUID) (map[uuid.UUID]CampaignStats, error)
}

// VisitorCache is the Redis-backed visitor state. Every method tolerates an
// unavailable backend; decisions degrade rather than fail.
type VisitorCache interface {
	// RecordImpression is best-effort: backend errors are swallowed.
	RecordImpression(ctx context.Context, visitorID string, campaignID uuid.UUID)
	// HasImpression fails open: an unavailable backend reports true.
	HasImpression(ctx context.Context, visitorID string, campaignID uuid.UUID) bool

	TriggerCounts(ctx context.Context, visitorID string, campaignID uuid.UUID) (session, day int, inCooldown bool)
	MarkTriggered(ctx context.Context, visitorID string, campaignID uuid.UUID, cooldown time.Duration)

	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}

// EventPublisher emits business events (lead.captured, discount.issued) to
// the broker. Best-effort by contract; callers log and continue on error.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}
