package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/popforge/popup-service/internal/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const campaignColumns = `
	id, shop, name, template_type, goal, status, priority,
	content, target_rules, experiment_id, variant_key, is_control,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (domain.Campaign, error) {
	var (
		c            domain.Campaign
		contentRaw   []byte
		rulesRaw     []byte
		experimentID *uuid.UUID
		variantKey   *string
	)
	err := row.Scan(
		&c.ID, &c.Shop, &c.Name, &c.TemplateType, &c.Goal, &c.Status, &c.Priority,
		&contentRaw, &rulesRaw, &experimentID, &variantKey, &c.IsControl,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Campaign{}, err
	}
	if len(contentRaw) > 0 {
		if err := json.Unmarshal(contentRaw, &c.Content); err != nil {
			return domain.Campaign{}, fmt.Errorf("decode campaign content: %w", err)
		}
	}
	if len(rulesRaw) > 0 {
		if err := json.Unmarshal(rulesRaw, &c.TargetRules); err != nil {
			return domain.Campaign{}, fmt.Errorf("decode target rules: %w", err)
		}
	}
	c.ExperimentID = experimentID
	if variantKey != nil {
		c.VariantKey = domain.VariantKey(*variantKey)
	}
	return c, nil
}

func campaignJSON(c *domain.Campaign) (content, rules []byte, err error) {
	content, err = json.Marshal(c.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("encode campaign content: %w", err)
	}
	rules, err = json.Marshal(c.TargetRules)
	if err != nil {
		return nil, nil, fmt.Errorf("encode target rules: %w", err)
	}
	return content, rules, nil
}

func variantKeyParam(c *domain.Campaign) *string {
	if c.VariantKey == "" {
		return nil
	}
	s := string(c.VariantKey)
	return &s
}

func (r *Repository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	content, rules, err := campaignJSON(c)
	if err != nil {
		return err
	}

	return r.pool.QueryRow(ctx, `
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
}

func (r *Repository) GetCampaign(ctx context.Context, shop string, id uuid.UUID) (domain.Campaign, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE shop = $1 AND id = $2
	`, shop, id)

	c, err := scanCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return c, err
}

func (r *Repository) ListCampaigns(ctx context.Context, shop string, status *domain.CampaignStatus) ([]domain.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE shop = $1`
	args := []any{shop}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

// ActiveCampaigns returns serve candidates, highest priority first.
func (r *Repository) ActiveCampaigns(ctx context.Context, shop string) ([]domain.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE shop = $1 AND status = $2
		ORDER BY priority DESC, created_at ASC
	`, shop, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

func collectCampaigns(rows pgx.Rows) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const updateCampaignSQL = `
	UPDATE campaigns
	SET name = $3, template_type = $4, goal = $5, status = $6,
	    priority = $7, content = $8, target_rules = $9, updated_at = NOW()
	WHERE shop = $1 AND id = $2
`

func (r *Repository) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	content, rules, err := campaignJSON(c)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, updateCampaignSQL,
		c.Shop, c.ID, c.Name, c.TemplateType, c.Goal, c.Status,
		c.Priority, content, rules)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

func (r *Repository) DeleteCampaign(ctx context.Context, shop string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM campaigns WHERE shop = $1 AND id = $2
	`, shop, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}
