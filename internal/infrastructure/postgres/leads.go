package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/popforge/popup-service/internal/domain"
)

// UpsertLead relies on unique constraints rather than application-level
// locking. Submissions carrying an email conflict on (shop, campaign_id,
// email); anonymous gamified plays (empty email) conflict on the partial
// unique index over (shop, campaign_id, visitor_id) WHERE email = ''. A
// submission with an email first tries to claim the visitor's anonymous
// play row, so the code won at play time survives the upgrade. The scanned
// lead reflects the stored row, and the returned flag reports whether a new
// row was inserted; (xmax = 0) distinguishes a fresh insert from a conflict
// update.
func (r *Repository) UpsertLead(ctx context.Context, l *domain.Lead) (bool, error) {
	if l.Email == "" {
		return r.upsertAnonymousLead(ctx, l)
	}

	if l.VisitorID != "" {
		// The NOT EXISTS guard keeps the upgrade from colliding with a row
		// that already holds this address; that case falls through to the
		// email upsert below.
		err := r.pool.QueryRow(ctx, `
			UPDATE leads
			SET email         = $4,
			    discount_code = CASE WHEN leads.discount_code <> '' THEN leads.discount_code ELSE $5 END,
			    updated_at    = NOW()
			WHERE shop = $1 AND campaign_id = $2 AND visitor_id = $3 AND email = ''
			  AND NOT EXISTS (
				SELECT 1 FROM leads WHERE shop = $1 AND campaign_id = $2 AND email = $4
			  )
			RETURNING id, discount_code, created_at, updated_at
		`, l.Shop, l.CampaignID, l.VisitorID, l.Email, l.DiscountCode,
		).Scan(&l.ID, &l.DiscountCode, &l.CreatedAt, &l.UpdatedAt)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, err
		}
	}

	var created bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (id, shop, campaign_id, email, visitor_id, discount_code, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
		ON CONFLICT (shop, campaign_id, email) DO UPDATE
		SET visitor_id    = EXCLUDED.visitor_id,
		    discount_code = CASE WHEN EXCLUDED.discount_code <> '' THEN EXCLUDED.discount_code ELSE leads.discount_code END,
		    updated_at    = NOW()
		RETURNING id, discount_code, created_at, updated_at, (xmax = 0)
	`, l.ID, l.Shop, l.CampaignID, l.Email, l.VisitorID, l.DiscountCode,
	).Scan(&l.ID, &l.DiscountCode, &l.CreatedAt, &l.UpdatedAt, &created)
	return created, err
}

func (r *Repository) upsertAnonymousLead(ctx context.Context, l *domain.Lead) (bool, error) {
	var created bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leads (id, shop, campaign_id, email, visitor_id, discount_code, created_at, updated_at)
		VALUES ($1,$2,$3,'',$4,$5,NOW(),NOW())
		ON CONFLICT (shop, campaign_id, visitor_id) WHERE email = '' DO UPDATE
		SET discount_code = CASE WHEN leads.discount_code <> '' THEN leads.discount_code ELSE EXCLUDED.discount_code END,
		    updated_at    = NOW()
		RETURNING id, discount_code, created_at, updated_at, (xmax = 0)
	`, l.ID, l.Shop, l.CampaignID, l.VisitorID, l.DiscountCode,
	).Scan(&l.ID, &l.DiscountCode, &l.CreatedAt, &l.UpdatedAt, &created)
	return created, err
}

// ListLeads pages newest-first with a keyset cursor (created_at, id).
func (r *Repository) ListLeads(ctx context.Context, shop string, campaignID *uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Lead, *domain.KeysetCursor, error) {
	query := `
		SELECT id, shop, campaign_id, email, visitor_id, discount_code, created_at, updated_at
		FROM leads
		WHERE shop = $1`
	args := []any{shop}

	if campaignID != nil {
		args = append(args, *campaignID)
		query += ` AND campaign_id = $2`
	}
	if cursor != nil {
		base := len(args)
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += ` AND (created_at, id) < ($` + strconv.Itoa(base+1) + `, $` + strconv.Itoa(base+2) + `)`
	}
	args = append(args, limit+1)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		var l domain.Lead
		if err := rows.Scan(&l.ID, &l.Shop, &l.CampaignID, &l.Email, &l.VisitorID, &l.DiscountCode, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.KeysetCursor
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = &domain.KeysetCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, next, nil
}

func (r *Repository) GetLeadByEmail(ctx context.Context, shop string, campaignID uuid.UUID, email string) (domain.Lead, error) {
	var l domain.Lead
	err := r.pool.QueryRow(ctx, `
		SELECT id, shop, campaign_id, email, visitor_id, discount_code, created_at, updated_at
		FROM leads
		WHERE shop = $1 AND campaign_id = $2 AND email = $3
	`, shop, campaignID, email).Scan(&l.ID, &l.Shop, &l.CampaignID, &l.Email, &l.VisitorID, &l.DiscountCode, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, domain.ErrLeadNotFound
	}
	return l, err
}
