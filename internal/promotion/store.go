package promotion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the promotion store dependency is not configured.
var ErrStoreUnavailable = errors.New("promotion: store unavailable")

// Store provides database accessors for promotions.
type Store interface {
	ActiveForProduct(ctx context.Context, branchID, productID uuid.UUID, at time.Time) (*Promotion, error)
	Create(ctx context.Context, p Promotion, productIDs []uuid.UUID) (Promotion, error)
	ListByBranch(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]Promotion, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// ActiveForProduct returns the in-window promotion linked to the product, or
// nil when none applies. Overlapping windows resolve to the latest start date.
func (s *pgStore) ActiveForProduct(ctx context.Context, branchID, productID uuid.UUID, at time.Time) (*Promotion, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT p.id, p.branch_id, p.value, p.start_date, p.end_date
FROM promotions p
JOIN applicable_promotions ap ON ap.promotion_id = p.id
WHERE p.branch_id = $1 AND ap.product_id = $2
  AND p.start_date <= $3 AND p.end_date >= $3
ORDER BY p.start_date DESC
LIMIT 1`, branchID, productID, at)
	var p Promotion
	if err := row.Scan(&p.ID, &p.BranchID, &p.Value, &p.StartDate, &p.EndDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Create persists a promotion and its applicable product links.
func (s *pgStore) Create(ctx context.Context, p Promotion, productIDs []uuid.UUID) (Promotion, error) {
	if s == nil || s.pool == nil {
		return Promotion{}, ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Promotion{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	var id uuid.UUID
	err = tx.QueryRow(ctx, `INSERT INTO promotions (branch_id, value, start_date, end_date)
VALUES ($1, $2, $3, $4) RETURNING id`, p.BranchID, p.Value, p.StartDate, p.EndDate).Scan(&id)
	if err != nil {
		return Promotion{}, err
	}
	for _, productID := range productIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO applicable_promotions (promotion_id, product_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, productID); err != nil {
			return Promotion{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Promotion{}, err
	}
	p.ID = id
	return p, nil
}

// ListByBranch returns promotions of a branch ordered by start date.
func (s *pgStore) ListByBranch(ctx context.Context, branchID uuid.UUID, limit, offset int) ([]Promotion, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT id, branch_id, value, start_date, end_date
FROM promotions WHERE branch_id = $1
ORDER BY start_date DESC LIMIT $2 OFFSET $3`, branchID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Promotion
	for rows.Next() {
		var p Promotion
		if err := rows.Scan(&p.ID, &p.BranchID, &p.Value, &p.StartDate, &p.EndDate); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
