package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/popforge/popup-service/internal/domain"
)

// Per-campaign counters live in their own table so the hot increment path
// never touches the campaigns row.

func (r *Repository) IncrImpression(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_stats (campaign_id, impressions, conversions)
		VALUES ($1, 1, 0)
		ON CONFLICT (campaign_id) DO UPDATE
		SET impressions = campaign_stats.impressions + 1
	`, campaignID)
	return err
}

func (r *Repository) IncrConversion(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_stats (campaign_id, impressions, conversions)
		VALUES ($1, 0, 1)
		ON CONFLICT (campaign_id) DO UPDATE
		SET conversions = campaign_stats.conversions + 1
	`, campaignID)
	return err
}

// GetStats returns counters for the requested campaigns; campaigns with no
// row yet are simply absent from the map.
func (r *Repository) GetStats(ctx context.Context, campaignIDs []uuid.UUID) (map[uuid.UUID]domain.CampaignStats, error) {
	out := make(map[uuid.UUID]domain.CampaignStats, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT campaign_id, impressions, conversions
		FROM campaign_stats
		WHERE campaign_id = ANY($1)
	`, campaignIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.CampaignStats
		if err := rows.Scan(&s.CampaignID, &s.Impressions, &s.Conversions); err != nil {
			return nil, err
		}
		out[s.CampaignID] = s
	}
	return out, rows.Err()
}
