package dao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vadim/dealroom/internal/database"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// DealPostgres implements DealRepository for PostgreSQL
type DealPostgres struct {
	db database.Querier
}

// NewDealPostgres creates a new PostgreSQL deal repository
func NewDealPostgres(db database.Querier) *DealPostgres {
	return &DealPostgres{db: db}
}

const dealColumns = `
	id, campaign_id, brand_id, influencer_id, title, campaign_title, brand_name,
	influencer_name, deal_type, total_value::text, currency, status, revision_count,
	application_deadline, version, created_at, updated_at`

// Create inserts a new deal
func (r *DealPostgres) Create(ctx context.Context, d *entity.Deal) error {
	query := `
		INSERT INTO deals (
			id, campaign_id, brand_id, influencer_id, title, campaign_title, brand_name,
			influencer_name, deal_type, total_value, currency, status, revision_count,
			application_deadline, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.Exec(ctx, query,
		d.ID,
		d.CampaignID,
		d.BrandID,
		d.InfluencerID,
		d.Title,
		d.CampaignTitle,
		d.BrandName,
		d.InfluencerName,
		d.Type,
		d.TotalValue.String(),
		d.Currency,
		d.Status,
		d.RevisionCount,
		d.ApplicationDeadline,
		d.Version,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting deal: %w", err)
	}

	return nil
}

// GetByID retrieves a deal by ID
func (r *DealPostgres) GetByID(ctx context.Context, id string) (*entity.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`

	d, err := scanDeal(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning deal: %w", err)
	}
	return d, nil
}

// UpdateStatus applies a transition if nobody else has since
func (r *DealPostgres) UpdateStatus(ctx context.Context, d *entity.Deal, expectedVersion int64) error {
	query := `
		UPDATE deals
		SET status = $2, revision_count = $3, version = $4, updated_at = $5
		WHERE id = $1 AND version = $6
	`

	tag, err := r.db.Exec(ctx, query, d.ID, d.Status, d.RevisionCount, d.Version, d.UpdatedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("updating deal status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrConflict
	}

	return nil
}

// List retrieves deals with optional filtering and pagination
func (r *DealPostgres) List(ctx context.Context, filter DealFilter, opts ListOptions) ([]entity.Deal, error) {
	var (
		conds []string
		args  []any
	)
	if filter.BrandID != "" {
		args = append(args, filter.BrandID)
		conds = append(conds, fmt.Sprintf("brand_id = $%d", len(args)))
	}
	if filter.InfluencerID != "" {
		args = append(args, filter.InfluencerID)
		conds = append(conds, fmt.Sprintf("influencer_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + dealColumns + ` FROM deals`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deals: %w", err)
	}
	defer rows.Close()

	var deals []entity.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deal: %w", err)
		}
		deals = append(deals, *d)
	}

	return deals, rows.Err()
}

func scanDeal(row pgx.Row) (*entity.Deal, error) {
	var d entity.Deal
	var totalValue string
	var deadline *time.Time

	err := row.Scan(
		&d.ID,
		&d.CampaignID,
		&d.BrandID,
		&d.InfluencerID,
		&d.Title,
		&d.CampaignTitle,
		&d.BrandName,
		&d.InfluencerName,
		&d.Type,
		&totalValue,
		&d.Currency,
		&d.Status,
		&d.RevisionCount,
		&deadline,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.TotalValue, err = decimal.NewFromString(totalValue)
	if err != nil {
		return nil, fmt.Errorf("parsing total_value %q: %w", totalValue, err)
	}
	if deadline != nil {
		d.ApplicationDeadline = *deadline
	}

	return &d, nil
}
