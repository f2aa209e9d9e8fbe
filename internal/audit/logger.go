package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/botguard"
	"github.com/popforge/popup-service/internal/domain"
	appCtx "github.com/popforge/popup-service/internal/pkg/context"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// BotDeflected logs when a submission was classified bot-likely and served
// a fake success
func (l *Logger) BotDeflected(ctx context.Context, campaignID uuid.UUID, reason botguard.Reason, ip string) {
	l.log.Warn().
		Str("action", "bot_deflected").
		Str("campaign_id", campaignID.String()).
		Str("reason", string(reason)).
		Str("ip", ip).
		Str("trace_id", getTraceID(ctx)).
		Msg("Submission deflected with fake success")
}

// SubmissionRejected logs a non-bot rejection (stale session)
func (l *Logger) SubmissionRejected(ctx context.Context, campaignID uuid.UUID, reason botguard.Reason) {
	l.log.Info().
		Str("action", "submission_rejected").
		Str("campaign_id", campaignID.String()).
		Str("reason", string(reason)).
		Str("trace_id", getTraceID(ctx)).
		Msg("Submission rejected")
}

// LeadCaptured logs a successful lead capture
func (l *Logger) LeadCaptured(ctx context.Context, shop string, campaignID, leadID uuid.UUID) {
	l.log.Info().
		Str("action", "lead_captured").
		Str("shop", shop).
		Str("campaign_id", campaignID.String()).
		Str("lead_id", leadID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("Lead captured")
}

// DiscountIssued logs a real discount code creation
func (l *Logger) DiscountIssued(ctx context.Context, shop string, campaignID uuid.UUID, code string) {
	l.log.Info().
		Str("action", "discount_issued").
		Str("shop", shop).
		Str("campaign_id", campaignID.String()).
		Str("code", code).
		Str("trace_id", getTraceID(ctx)).
		Msg("Discount code issued")
}

// GoalPropagated logs an experiment-wide goal change via the control
func (l *Logger) GoalPropagated(ctx context.Context, shop string, experimentID uuid.UUID, goal domain.CampaignGoal) {
	l.log.Info().
		Str("action", "goal_propagated").
		Str("shop", shop).
		Str("experiment_id", experimentID.String()).
		Str("goal", string(goal)).
		Str("trace_id", getTraceID(ctx)).
		Msg("Experiment goal propagated to all variants")
}

// ExperimentCreated logs a new experiment with its variant split
func (l *Logger) ExperimentCreated(ctx context.Context, shop string, experimentID uuid.UUID, variants int) {
	l.log.Info().
		Str("action", "experiment_created").
		Str("shop", shop).
		Str("experiment_id", experimentID.String()).
		Int("variants", variants).
		Str("trace_id", getTraceID(ctx)).
		Msg("Experiment created")
}

// getTraceID extracts the request id from context if available
func getTraceID(ctx context.Context) string {
	return appCtx.GetRequestID(ctx)
}
