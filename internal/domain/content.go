package domain

import (
	"errors"
	"fmt"
	"strings"
)

// CampaignContent is the per-template configuration blob. The original data
// arrives as JSON from the admin UI; instead of passing it through as an
// untyped map, each template family gets its own section and Validate
// rejects payloads whose section does not match the template type.

type DiscountConfig struct {
	Prefix     string `json:"prefix"`
	Percentage int    `json:"percentage"`
	// Days until the issued code expires; 0 means no expiry.
	ExpiresInDays int `json:"expires_in_days,omitempty"`
}

type WheelSegment struct {
	Label   string `json:"label"`
	Weight  int    `json:"weight"`
	Losing  bool   `json:"losing,omitempty"`
	Percent int    `json:"percent,omitempty"`
}

type WheelConfig struct {
	Segments []WheelSegment `json:"segments"`
}

type UpsellConfig struct {
	// Anchor product for the related-products tier of the recommendation
	// cascade; empty falls straight through to best sellers.
	ProductID string `json:"product_id,omitempty"`
	MaxItems  int    `json:"max_items,omitempty"`
}

type CampaignContent struct {
	Headline       string `json:"headline"`
	Body           string `json:"body,omitempty"`
	ButtonLabel    string `json:"button_label,omitempty"`
	SuccessMessage string `json:"success_message,omitempty"`

	Discount *DiscountConfig `json:"discount,omitempty"`
	Wheel    *WheelConfig    `json:"wheel,omitempty"`
	Upsell   *UpsellConfig   `json:"upsell,omitempty"`
}

var ErrContentInvalid = errors.New("campaign content invalid")

func (c CampaignContent) Validate(t TemplateType) error {
	if strings.TrimSpace(c.Headline) == "" {
		return fmt.Errorf("%w: headline required", ErrContentInvalid)
	}

	switch t {
	case TemplateSpinToWin:
		if c.Wheel == nil || len(c.Wheel.Segments) < 2 {
			return fmt.Errorf("%w: %s needs a wheel with at least 2 segments", ErrContentInvalid, t)
		}
		for _, seg := range c.Wheel.Segments {
			if seg.Weight <= 0 {
				return fmt.Errorf("%w: wheel segment %q needs a positive weight", ErrContentInvalid, seg.Label)
			}
		}
	case TemplateScratchCard:
		if c.Discount == nil {
			return fmt.Errorf("%w: %s needs a discount config", ErrContentInvalid, t)
		}
	case TemplateProductUpsell:
		if c.Upsell == nil {
			return fmt.Errorf("%w: %s needs an upsell config", ErrContentInvalid, t)
		}
	case TemplateNewsletter, TemplateFlashSale, TemplateCartAbandonment,
		TemplateFreeShipping, TemplateAnnouncement, TemplateSocialProof:
		// No mandatory section beyond the common fields.
	default:
		return fmt.Errorf("%w: unknown template type %q", ErrContentInvalid, t)
	}

	if c.Discount != nil {
		if c.Discount.Percentage < 1 || c.Discount.Percentage > 100 {
			return fmt.Errorf("%w: discount percentage must be 1-100", ErrContentInvalid)
		}
	}
	return nil
}
