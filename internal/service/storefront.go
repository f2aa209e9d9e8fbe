package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/botguard"
	"github.com/popforge/popup-service/internal/domain"
	"github.com/popforge/popup-service/internal/experiment"
	"github.com/popforge/popup-service/internal/shopify"
)

// ServedPopup is one popup the storefront script should render, together
// with the frequency policy the script enforces client-side as well.
type ServedPopup struct {
	Campaign  domain.Campaign
	Frequency domain.FrequencyPolicy
}

type SubmissionKind int

const (
	SubmissionAccepted SubmissionKind = iota
	// SubmissionDeflected means bot-likely: the response is a fake success
	// and nothing was persisted.
	SubmissionDeflected
	// SubmissionRejected means a genuine user with a stale session; the
	// response tells them to refresh.
	SubmissionRejected
)

type SubmissionResult struct {
	Kind     SubmissionKind
	Response any
}

// SuccessResponse is the submission success payload. Deflected bots receive
// the same shape with a decoy code.
type SuccessResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Prize        string `json:"prize,omitempty"`
	DiscountCode string `json:"discount_code,omitempty"`
}

// ActivePopups decides which popups a visitor should see right now:
// active campaigns for the shop, reduced to the visitor's assigned variant
// for experiment members, then filtered by each template's frequency policy.
// Frequency counters come from Redis and fail open toward showing.
func (s *PopupService) ActivePopups(ctx context.Context, shop, visitorID string) ([]ServedPopup, error) {
	campaigns, err := s.repo.ActiveCampaigns(ctx, shop)
	if err != nil {
		return nil, err
	}

	experiments := map[uuid.UUID]domain.Experiment{}
	out := make([]ServedPopup, 0, len(campaigns))

	for _, c := range campaigns {
		if c.ExperimentID != nil {
			exp, ok := experiments[*c.ExperimentID]
			if !ok {
				exp, err = s.repo.GetExperiment(ctx, shop, *c.ExperimentID)
				if err != nil {
					// A variant whose experiment row is gone is skipped, not
					// served to everyone.
					continue
				}
				experiments[*c.ExperimentID] = exp
			}
			if experiment.Assign(visitorID, exp) != c.VariantKey {
				continue
			}
		}

		policy := domain.FrequencyCappingDefaults(c.TemplateType)
		if policy.Enabled {
			session, day, inCooldown := s.cache.TriggerCounts(ctx, visitorID, c.ID)
			if inCooldown || session >= policy.MaxTriggersPerSession || day >= policy.MaxTriggersPerDay {
				continue
			}
		}

		out = append(out, ServedPopup{Campaign: c, Frequency: policy})
	}
	return out, nil
}

// RecordImpression marks that a popup rendered for a visitor: the 24h
// impression record (used by bot detection), the frequency counters, and
// the campaign's impression total.
func (s *PopupService) RecordImpression(ctx context.Context, shop string, campaignID uuid.UUID, visitorID string) error {
	c, err := s.repo.GetCampaign(ctx, shop, campaignID)
	if err != nil {
		return err
	}

	s.cache.RecordImpression(ctx, visitorID, campaignID)

	policy := domain.FrequencyCappingDefaults(c.TemplateType)
	if policy.Enabled {
		s.cache.MarkTriggered(ctx, visitorID, campaignID, policy.CooldownBetweenTriggers)
	}

	return s.repo.IncrImpression(ctx, campaignID)
}

// SubmitLead runs a storefront submission through bot detection and, when it
// passes, captures the lead and issues any configured discount code.
//
// Deflected submissions receive a success payload built with the same code
// generator as real ones, so the response shape never betrays the verdict.
func (s *PopupService) SubmitLead(ctx context.Context, shop string, a botguard.Attempt, email string) (SubmissionResult, error) {
	c, err := s.repo.GetCampaign(ctx, shop, a.CampaignID)
	if err != nil {
		return SubmissionResult{}, err
	}

	message := c.Content.SuccessMessage
	if message == "" {
		message = "Thanks! You're all set."
	}

	fake := SuccessResponse{Success: true, Message: message}
	if c.Content.Discount != nil {
		fake.DiscountCode = shopify.GenerateCode(c.Content.Discount.Prefix)
	}

	if gate := s.validator.HandleBotDetection(ctx, a, botguard.GateOptions{FakeSuccess: fake}); gate != nil {
		if gate.IsBot {
			s.audit.BotDeflected(ctx, a.CampaignID, gate.Reason, a.IP)
			return SubmissionResult{Kind: SubmissionDeflected, Response: gate.Response}, nil
		}
		s.audit.SubmissionRejected(ctx, a.CampaignID, gate.Reason)
		return SubmissionResult{Kind: SubmissionRejected, Response: gate.Response}, nil
	}

	var (
		code   string
		minted bool
	)
	if c.Content.Discount != nil {
		// A resubmitting lead keeps the code they already hold instead of
		// minting a fresh one per attempt.
		existing, err := s.repo.GetLeadByEmail(ctx, shop, a.CampaignID, email)
		switch {
		case err == nil && existing.DiscountCode != "":
			code = existing.DiscountCode
		case err != nil && !errors.Is(err, domain.ErrLeadNotFound):
			return SubmissionResult{}, err
		}
		if code == "" {
			code, err = s.discounts.CreateDiscountCode(ctx, shop, c.Content.Discount.Prefix, c.Content.Discount.Percentage, c.Content.Discount.ExpiresInDays)
			if err != nil {
				return SubmissionResult{}, fmt.Errorf("issue discount: %w", err)
			}
			minted = true
		}
	}

	lead := &domain.Lead{
		ID:           uuid.New(),
		Shop:         shop,
		CampaignID:   a.CampaignID,
		Email:        email,
		VisitorID:    a.EffectiveVisitorID(),
		DiscountCode: code,
	}
	created, err := s.repo.UpsertLead(ctx, lead)
	if err != nil {
		return SubmissionResult{}, err
	}
	if created {
		if err := s.repo.IncrConversion(ctx, a.CampaignID); err != nil {
			return SubmissionResult{}, err
		}
		s.audit.LeadCaptured(ctx, shop, a.CampaignID, lead.ID)
		s.publish(ctx, "lead.captured", LeadCapturedEvent{
			Shop:       shop,
			CampaignID: a.CampaignID,
			LeadID:     lead.ID,
			Email:      email,
		})
	}
	// An upgrade that kept a play-time code abandons the fresh mint; only a
	// code that actually landed on the row counts as issued.
	if minted && code != "" && lead.DiscountCode == code {
		s.audit.DiscountIssued(ctx, shop, a.CampaignID, code)
		s.publish(ctx, "discount.issued", DiscountIssuedEvent{
			Shop:       shop,
			CampaignID: a.CampaignID,
			Code:       code,
		})
	}

	return SubmissionResult{
		Kind:     SubmissionAccepted,
		Response: SuccessResponse{Success: true, Message: message, DiscountCode: lead.DiscountCode},
	}, nil
}

// PlayCampaign runs an anonymous gamified interaction (spin-to-win or
// scratch card). A play needs no email: winners get their code immediately,
// and the lead row is recorded with an empty address, upgraded in place if
// the visitor later submits one. The prize is deterministic per visitor and
// campaign, so replaying cannot farm better outcomes.
func (s *PopupService) PlayCampaign(ctx context.Context, shop string, a botguard.Attempt) (SubmissionResult, error) {
	c, err := s.repo.GetCampaign(ctx, shop, a.CampaignID)
	if err != nil {
		return SubmissionResult{}, err
	}

	switch c.TemplateType {
	case domain.TemplateSpinToWin:
		if c.Content.Wheel == nil || len(c.Content.Wheel.Segments) == 0 {
			return SubmissionResult{}, fmt.Errorf("%w: campaign %s has no wheel", domain.ErrContentInvalid, a.CampaignID)
		}
	case domain.TemplateScratchCard:
		if c.Content.Discount == nil {
			return SubmissionResult{}, fmt.Errorf("%w: campaign %s has no discount", domain.ErrContentInvalid, a.CampaignID)
		}
	default:
		return SubmissionResult{}, fmt.Errorf("%w: campaign %s is not a gamified template", domain.ErrContentInvalid, a.CampaignID)
	}

	visitorID := a.EffectiveVisitorID()
	pr := resolvePrize(c, visitorID)

	message := c.Content.SuccessMessage
	if message == "" {
		if pr.Wins {
			message = "You won!"
		} else {
			message = "Better luck next time."
		}
	}

	fake := SuccessResponse{Success: true, Message: message, Prize: pr.Label}
	if pr.Wins && pr.Percent > 0 {
		fake.DiscountCode = shopify.GenerateCode(pr.Prefix)
	}

	if gate := s.validator.HandleBotDetection(ctx, a, botguard.GateOptions{FakeSuccess: fake}); gate != nil {
		if gate.IsBot {
			s.audit.BotDeflected(ctx, a.CampaignID, gate.Reason, a.IP)
			return SubmissionResult{Kind: SubmissionDeflected, Response: gate.Response}, nil
		}
		s.audit.SubmissionRejected(ctx, a.CampaignID, gate.Reason)
		return SubmissionResult{Kind: SubmissionRejected, Response: gate.Response}, nil
	}

	var code string
	if pr.Wins && pr.Percent > 0 {
		code, err = s.discounts.CreateDiscountCode(ctx, shop, pr.Prefix, pr.Percent, pr.Expires)
		if err != nil {
			return SubmissionResult{}, fmt.Errorf("issue discount: %w", err)
		}
	}

	lead := &domain.Lead{
		ID:           uuid.New(),
		Shop:         shop,
		CampaignID:   a.CampaignID,
		VisitorID:    visitorID,
		DiscountCode: code,
	}
	created, err := s.repo.UpsertLead(ctx, lead)
	if err != nil {
		return SubmissionResult{}, err
	}
	if created {
		if err := s.repo.IncrConversion(ctx, a.CampaignID); err != nil {
			return SubmissionResult{}, err
		}
		s.audit.LeadCaptured(ctx, shop, a.CampaignID, lead.ID)
		s.publish(ctx, "lead.captured", LeadCapturedEvent{
			Shop:       shop,
			CampaignID: a.CampaignID,
			LeadID:     lead.ID,
		})
	}
	if code != "" && lead.DiscountCode == code {
		s.audit.DiscountIssued(ctx, shop, a.CampaignID, code)
		s.publish(ctx, "discount.issued", DiscountIssuedEvent{
			Shop:       shop,
			CampaignID: a.CampaignID,
			Code:       code,
		})
	}

	return SubmissionResult{
		Kind:     SubmissionAccepted,
		Response: SuccessResponse{Success: true, Message: message, Prize: pr.Label, DiscountCode: lead.DiscountCode},
	}, nil
}

type prizeOutcome struct {
	Label   string
	Wins    bool
	Percent int
	Prefix  string
	Expires int
}

// resolvePrize decides what a play wins. Scratch cards always reveal the
// campaign's discount; spin-to-win picks a wheel segment by weight. A
// winning segment without its own percentage falls back to the campaign's
// discount config; a winner with no percentage at all gets a prize label
// but no code.
func resolvePrize(c domain.Campaign, visitorID string) prizeOutcome {
	if c.TemplateType == domain.TemplateScratchCard {
		d := c.Content.Discount
		return prizeOutcome{
			Label:   fmt.Sprintf("%d%% off", d.Percentage),
			Wins:    true,
			Percent: d.Percentage,
			Prefix:  d.Prefix,
			Expires: d.ExpiresInDays,
		}
	}

	seg := spinSegment(c.Content.Wheel, visitorID, c.ID)
	pr := prizeOutcome{Label: seg.Label, Wins: !seg.Losing, Percent: seg.Percent}
	if d := c.Content.Discount; d != nil {
		if pr.Percent == 0 {
			pr.Percent = d.Percentage
		}
		pr.Prefix = d.Prefix
		pr.Expires = d.ExpiresInDays
	}
	if pr.Prefix == "" {
		pr.Prefix = "WIN"
	}
	return pr
}

// spinSegment picks a wheel segment by weight, deterministically per
// (visitor, campaign): a replayed spin lands on the segment it already
// granted instead of re-rolling.
func spinSegment(w *domain.WheelConfig, visitorID string, campaignID uuid.UUID) domain.WheelSegment {
	total := 0
	for _, seg := range w.Segments {
		total += seg.Weight
	}
	if total <= 0 {
		return w.Segments[len(w.Segments)-1]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(visitorID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(campaignID.String()))
	n := int(h.Sum32() % uint32(total))

	for _, seg := range w.Segments {
		if n < seg.Weight {
			return seg
		}
		n -= seg.Weight
	}
	return w.Segments[len(w.Segments)-1]
}

// UpsellProducts resolves the product list for an upsell popup via the
// recommendation cascade.
func (s *PopupService) UpsellProducts(ctx context.Context, shop string, campaignID uuid.UUID) ([]shopify.Product, error) {
	c, err := s.repo.GetCampaign(ctx, shop, campaignID)
	if err != nil {
		return nil, err
	}
	if c.TemplateType != domain.TemplateProductUpsell || c.Content.Upsell == nil {
		return nil, fmt.Errorf("%w: campaign %s is not a product upsell", domain.ErrContentInvalid, campaignID)
	}
	return s.products.RecommendProducts(ctx, shop, c.Content.Upsell.ProductID, c.Content.Upsell.MaxItems)
}

// LeadCapturedEvent is published on the broker after a lead is persisted.
type LeadCapturedEvent struct {
	Shop       string    `json:"shop"`
	CampaignID uuid.UUID `json:"campaign_id"`
	LeadID     uuid.UUID `json:"lead_id"`
	Email      string    `json:"email"`
}

type DiscountIssuedEvent struct {
	Shop       string    `json:"shop"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Code       string    `json:"code"`
}
