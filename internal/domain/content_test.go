package domain_test

import (
	"testing"

	"github.com/popforge/popup-service/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCampaignContent_Validate(t *testing.T) {
	base := domain.CampaignContent{Headline: "Get 10% off"}

	t.Run("headline required", func(t *testing.T) {
		err := domain.CampaignContent{}.Validate(domain.TemplateNewsletter)
		assert.ErrorIs(t, err, domain.ErrContentInvalid)
	})

	t.Run("newsletter needs nothing beyond common fields", func(t *testing.T) {
		assert.NoError(t, base.Validate(domain.TemplateNewsletter))
	})

	t.Run("spin to win needs at least two segments", func(t *testing.T) {
		c := base
		c.Wheel = &domain.WheelConfig{Segments: []domain.WheelSegment{{Label: "10%", Weight: 1}}}
		assert.ErrorIs(t, c.Validate(domain.TemplateSpinToWin), domain.ErrContentInvalid)

		c.Wheel.Segments = append(c.Wheel.Segments, domain.WheelSegment{Label: "Try again", Weight: 3, Losing: true})
		assert.NoError(t, c.Validate(domain.TemplateSpinToWin))
	})

	t.Run("segment weights must be positive", func(t *testing.T) {
		c := base
		c.Wheel = &domain.WheelConfig{Segments: []domain.WheelSegment{
			{Label: "10%", Weight: 1},
			{Label: "bad", Weight: 0},
		}}
		assert.ErrorIs(t, c.Validate(domain.TemplateSpinToWin), domain.ErrContentInvalid)
	})

	t.Run("upsell needs its config section", func(t *testing.T) {
		assert.ErrorIs(t, base.Validate(domain.TemplateProductUpsell), domain.ErrContentInvalid)

		c := base
		c.Upsell = &domain.UpsellConfig{MaxItems: 3}
		assert.NoError(t, c.Validate(domain.TemplateProductUpsell))
	})

	t.Run("discount percentage bounds", func(t *testing.T) {
		c := base
		c.Discount = &domain.DiscountConfig{Prefix: "SAVE", Percentage: 0}
		assert.ErrorIs(t, c.Validate(domain.TemplateFlashSale), domain.ErrContentInvalid)

		c.Discount.Percentage = 101
		assert.ErrorIs(t, c.Validate(domain.TemplateFlashSale), domain.ErrContentInvalid)

		c.Discount.Percentage = 15
		assert.NoError(t, c.Validate(domain.TemplateFlashSale))
	})

	t.Run("unknown template type rejected", func(t *testing.T) {
		assert.ErrorIs(t, base.Validate(domain.TemplateType("NOPE")), domain.ErrContentInvalid)
	})
}
