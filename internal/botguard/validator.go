package botguard

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Reason string

const (
	ReasonHoneypot       Reason = "honeypot"
	ReasonTooFast        Reason = "too_fast"
	ReasonSessionExpired Reason = "session_expired"
	ReasonNoImpression   Reason = "no_impression"
)

const (
	// MinSubmitDelay is the fastest a human plausibly fills the form after
	// the popup renders. Exactly MinSubmitDelay is accepted.
	MinSubmitDelay = 1500 * time.Millisecond

	// MaxSessionAge is how long a rendered popup stays submittable.
	// Exactly MaxSessionAge is accepted.
	MaxSessionAge = 30 * time.Minute
)

// Attempt is one storefront submission. PopupShownAt is client-reported
// epoch milliseconds; 0 means the client sent no timing signal.
type Attempt struct {
	CampaignID   uuid.UUID
	VisitorID    string
	SessionID    string
	Honeypot     string
	PopupShownAt int64
	IP           string
}

// EffectiveVisitorID falls back to the session id when the client did not
// send an explicit visitor id.
func (a Attempt) EffectiveVisitorID() string {
	if strings.TrimSpace(a.VisitorID) != "" {
		return a.VisitorID
	}
	return a.SessionID
}

type Result struct {
	Valid     bool
	Reason    Reason
	BotLikely bool
}

// ImpressionChecker answers "did this visitor see this campaign recently".
// Implementations fail open: an unreachable backend reports true.
type ImpressionChecker interface {
	HasImpression(ctx context.Context, visitorID string, campaignID uuid.UUID) bool
}

type Validator struct {
	impressions ImpressionChecker

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewValidator(impressions ImpressionChecker) *Validator {
	return &Validator{impressions: impressions, Now: time.Now}
}

// Validate classifies a submission. Heuristics run in fixed priority order,
// first match wins:
//
//  1. honeypot filled -> bot
//  2. timing too slow -> stale session (not a bot signal)
//  3. timing too fast -> bot
//  4. no timing signal at all -> fall back to the impression record;
//     absent impression -> bot, unavailable store -> pass
//
// Honeypot first: strongest and cheapest signal. The impression fallback
// only runs when no timing was sent, so one request is never penalized by
// two heuristics for the same evidence.
func (v *Validator) Validate(ctx context.Context, a Attempt) Result {
	if strings.TrimSpace(a.Honeypot) != "" {
		return Result{Valid: false, Reason: ReasonHoneypot, BotLikely: true}
	}

	if a.PopupShownAt > 0 {
		elapsed := v.Now().UnixMilli() - a.PopupShownAt
		if elapsed > MaxSessionAge.Milliseconds() {
			return Result{Valid: false, Reason: ReasonSessionExpired}
		}
		if elapsed < MinSubmitDelay.Milliseconds() {
			return Result{Valid: false, Reason: ReasonTooFast, BotLikely: true}
		}
		return Result{Valid: true}
	}

	if !v.impressions.HasImpression(ctx, a.EffectiveVisitorID(), a.CampaignID) {
		return Result{Valid: false, Reason: ReasonNoImpression, BotLikely: true}
	}
	return Result{Valid: true}
}
