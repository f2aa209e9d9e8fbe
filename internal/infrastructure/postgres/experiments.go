package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/popforge/popup-service/internal/domain"
)

// CreateExperiment inserts the experiment row and every variant campaign in
// one transaction: either the whole experiment exists or none of it does.
func (r *Repository) CreateExperiment(ctx context.Context, exp *domain.Experiment, variants []*domain.Campaign) error {
	alloc, err := json.Marshal(exp.TrafficAllocation)
	if err != nil {
		return fmt.Errorf("encode traffic allocation: %w", err)
	}
	metrics, err := json.Marshal(exp.SuccessMetrics)
	if err != nil {
		return fmt.Errorf("encode success metrics: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO experiments (id, shop, name, traffic_allocation, success_metrics, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		RETURNING created_at
	`, exp.ID, exp.Shop, exp.Name, alloc, metrics).Scan(&exp.CreatedAt)
	if err != nil {
		return err
	}

	for _, c := range variants {
		content, rules, err := campaignJSON(c)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO campaigns (
				id, shop, name, template_type, goal, status, priority,
				content, target_rules, experiment_id, variant_key, is_control,
				created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW())
			RETURNING created_at, updated_at
		`, c.ID, c.Shop, c.Name, c.TemplateType, c.Goal, c.Status, c.Priority,
			content, rules, c.ExperimentID, variantKeyParam(c), c.IsControl,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repository) GetExperiment(ctx context.Context, shop string, id uuid.UUID) (domain.Experiment, error) {
	var (
		exp        domain.Experiment
		allocRaw   []byte
		metricsRaw []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, shop, name, traffic_allocation, success_metrics, created_at
		FROM experiments
		WHERE shop = $1 AND id = $2
	`, shop, id).Scan(&exp.ID, &exp.Shop, &exp.Name, &allocRaw, &metricsRaw, &exp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Experiment{}, domain.ErrExperimentNotFound
	}
	if err != nil {
		return domain.Experiment{}, err
	}

	if err := json.Unmarshal(allocRaw, &exp.TrafficAllocation); err != nil {
		return domain.Experiment{}, fmt.Errorf("decode traffic allocation: %w", err)
	}
	if len(metricsRaw) > 0 {
		if err := json.Unmarshal(metricsRaw, &exp.SuccessMetrics); err != nil {
			return domain.Experiment{}, fmt.Errorf("decode success metrics: %w", err)
		}
	}
	return exp, nil
}

func (r *Repository) ListVariants(ctx context.Context, shop string, experimentID uuid.UUID) ([]domain.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE shop = $1 AND experiment_id = $2
		ORDER BY variant_key ASC
	`, shop, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants, err := collectCampaigns(rows)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, domain.ErrExperimentNotFound
	}
	return variants, nil
}

// UpdateCampaignAndPropagateGoal saves the control variant and rewrites the
// goal of every variant under the experiment inside one transaction: either
// the control's edit and all sibling goals land together, or none of it
// does, so serve-time reads never observe variants on different goals.
func (r *Repository) UpdateCampaignAndPropagateGoal(ctx context.Context, c *domain.Campaign, experimentID uuid.UUID) error {
	content, rules, err := campaignJSON(c)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateCampaignSQL,
		c.Shop, c.ID, c.Name, c.TemplateType, c.Goal, c.Status,
		c.Priority, content, rules)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}

	tag, err = tx.Exec(ctx, `
		UPDATE campaigns
		SET goal = $3, updated_at = NOW()
		WHERE shop = $1 AND experiment_id = $2
	`, c.Shop, experimentID, c.Goal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExperimentNotFound
	}

	return tx.Commit(ctx)
}
