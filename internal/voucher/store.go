package voucher

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the voucher store dependency is not configured.
var ErrStoreUnavailable = errors.New("voucher: store unavailable")

// Querier captures the database operations the usage ledger runs inside a
// transaction.
type Querier interface {
	GetByCodeForUpdate(ctx context.Context, code string) (Voucher, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (Voucher, error)
	// DecrementRemainingUsage performs the atomic conditional decrement. The
	// boolean is false when the voucher had no remaining usage left.
	DecrementRemainingUsage(ctx context.Context, id uuid.UUID) (int32, bool, error)
	RestoreRemainingUsage(ctx context.Context, id uuid.UUID) (int32, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	LinkOrderVoucher(ctx context.Context, orderID, voucherID uuid.UUID) error
	UnlinkOrderVoucher(ctx context.Context, orderID uuid.UUID) error
}

// TxRunner executes a function within a single database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(q Querier) error) error
}

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the pgx-backed voucher store. It implements Querier and TxRunner.
type Store struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (s *Store) withTx(tx pgx.Tx) *Store {
	return &Store{pool: s.pool, db: tx}
}

// InTx runs fn inside a transaction, rolling back on error.
func (s *Store) InTx(ctx context.Context, fn func(q Querier) error) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(s.withTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const voucherColumns = `id, code, title, kind, value, min_order_value, start_date, end_date,
max_usage, remaining_usage, is_active, is_private, verification_identity`

func (s *Store) scanVoucher(ctx context.Context, row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.Code, &v.Title, &v.Kind, &v.Value, &v.MinOrderValue,
		&v.StartDate, &v.EndDate, &v.MaxUsage, &v.RemainingUsage,
		&v.IsActive, &v.IsPrivate, &v.VerificationIdentity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrNotFound
		}
		return Voucher{}, err
	}
	products, err := s.applicableProducts(ctx, v.ID)
	if err != nil {
		return Voucher{}, err
	}
	v.ApplicableProducts = products
	return v, nil
}

func (s *Store) applicableProducts(ctx context.Context, voucherID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT product_id FROM voucher_products WHERE voucher_id = $1`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetByCodeForUpdate fetches a voucher by code, locking the row for the
// duration of the enclosing transaction.
func (s *Store) GetByCodeForUpdate(ctx context.Context, code string) (Voucher, error) {
	if s == nil || s.db == nil {
		return Voucher{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1 FOR UPDATE`, code)
	return s.scanVoucher(ctx, row)
}

// GetByIDForUpdate fetches a voucher by id with a row lock.
func (s *Store) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (Voucher, error) {
	if s == nil || s.db == nil {
		return Voucher{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1 FOR UPDATE`, id)
	return s.scanVoucher(ctx, row)
}

// GetByID fetches a voucher without locking; used when pricing an order's
// attached voucher for display.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Voucher, error) {
	if s == nil || s.db == nil {
		return Voucher{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id)
	return s.scanVoucher(ctx, row)
}

// GetByCode fetches a voucher without locking; used by read-only previews.
func (s *Store) GetByCode(ctx context.Context, code string) (Voucher, error) {
	if s == nil || s.db == nil {
		return Voucher{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code)
	return s.scanVoucher(ctx, row)
}

// DecrementRemainingUsage decrements the usage counter only while usage
// remains, so two concurrent redemptions can never drive it negative.
func (s *Store) DecrementRemainingUsage(ctx context.Context, id uuid.UUID) (int32, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrStoreUnavailable
	}
	var remaining int32
	err := s.db.QueryRow(ctx, `UPDATE vouchers
SET remaining_usage = remaining_usage - 1
WHERE id = $1 AND remaining_usage > 0
RETURNING remaining_usage`, id).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return remaining, true, nil
}

// RestoreRemainingUsage gives one usage back, capped at max_usage.
func (s *Store) RestoreRemainingUsage(ctx context.Context, id uuid.UUID) (int32, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var remaining int32
	err := s.db.QueryRow(ctx, `UPDATE vouchers
SET remaining_usage = LEAST(remaining_usage + 1, max_usage)
WHERE id = $1
RETURNING remaining_usage`, id).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return remaining, nil
}

// SetActive persists the lifecycle decision for the voucher.
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `UPDATE vouchers SET is_active = $2 WHERE id = $1`, id, active)
	return err
}

// LinkOrderVoucher records the voucher reference on a pending order.
func (s *Store) LinkOrderVoucher(ctx context.Context, orderID, voucherID uuid.UUID) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `UPDATE orders SET voucher_id = $2, updated_at = now()
WHERE id = $1 AND status = 'pending'`, orderID, voucherID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotEditable
	}
	return nil
}

// UnlinkOrderVoucher clears the voucher reference from an order.
func (s *Store) UnlinkOrderVoucher(ctx context.Context, orderID uuid.UUID) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	_, err := s.db.Exec(ctx, `UPDATE orders SET voucher_id = NULL, updated_at = now() WHERE id = $1`, orderID)
	return err
}

// Create inserts a voucher and its applicable product links.
func (s *Store) Create(ctx context.Context, v Voucher) (Voucher, error) {
	if s == nil || s.pool == nil {
		return Voucher{}, ErrStoreUnavailable
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Voucher{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	err = tx.QueryRow(ctx, `INSERT INTO vouchers
(code, title, kind, value, min_order_value, start_date, end_date,
 max_usage, remaining_usage, is_active, is_private, verification_identity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9, $10, $11)
RETURNING id`,
		v.Code, v.Title, v.Kind, v.Value, v.MinOrderValue, v.StartDate, v.EndDate,
		v.MaxUsage, v.IsActive, v.IsPrivate, v.VerificationIdentity).Scan(&v.ID)
	if err != nil {
		return Voucher{}, err
	}
	for _, productID := range v.ApplicableProducts {
		if _, err := tx.Exec(ctx, `INSERT INTO voucher_products (voucher_id, product_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, v.ID, productID); err != nil {
			return Voucher{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Voucher{}, err
	}
	v.RemainingUsage = v.MaxUsage
	return v, nil
}

// List returns vouchers visible to the caller. Private vouchers are only
// included when includePrivate is set.
func (s *Store) List(ctx context.Context, includePrivate bool, limit, offset int) ([]Voucher, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers
WHERE ($1 OR is_private = false)
ORDER BY end_date ASC LIMIT $2 OFFSET $3`, includePrivate, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(&v.ID, &v.Code, &v.Title, &v.Kind, &v.Value, &v.MinOrderValue,
			&v.StartDate, &v.EndDate, &v.MaxUsage, &v.RemainingUsage,
			&v.IsActive, &v.IsPrivate, &v.VerificationIdentity); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
