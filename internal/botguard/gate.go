package botguard

import "context"

// DefaultExpiredMessage is shown to genuine users whose popup session aged
// out; it is recoverable by refreshing.
const DefaultExpiredMessage = "Session expired. Please refresh the page."

type GateOptions struct {
	// FakeSuccess is returned verbatim to bot-likely submitters. It must be
	// shaped exactly like a real success payload (including a plausible
	// discount code) so tooling cannot distinguish rejection from success.
	FakeSuccess any

	// ErrorMessage overrides DefaultExpiredMessage for non-bot rejections.
	ErrorMessage string
}

type GateResult struct {
	IsBot    bool
	Reason   Reason
	Response any
}

// ErrorResponse is the user-facing rejection body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// HandleBotDetection wraps Validate into a ready-to-send response so no
// endpoint reimplements the branching. It never returns an error:
//
//   - valid submission -> nil, caller proceeds
//   - bot-likely -> {IsBot: true, Response: opts.FakeSuccess}
//   - stale session -> {IsBot: false, Response: ErrorResponse}
func (v *Validator) HandleBotDetection(ctx context.Context, a Attempt, opts GateOptions) *GateResult {
	res := v.Validate(ctx, a)
	if res.Valid {
		return nil
	}

	if res.BotLikely {
		return &GateResult{IsBot: true, Reason: res.Reason, Response: opts.FakeSuccess}
	}

	msg := opts.ErrorMessage
	if msg == "" {
		msg = DefaultExpiredMessage
	}
	return &GateResult{IsBot: false, Reason: res.Reason, Response: ErrorResponse{Success: false, Error: msg}}
}
