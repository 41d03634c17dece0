package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-resto/internal/pricing"
	"github.com/noah-isme/backend-resto/internal/voucher"
)

// Order lifecycle states. A voucher is only mutable while the order is pending.
const (
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusCanceled = "canceled"
)

var (
	// ErrNotFound is returned when no order matches the id.
	ErrNotFound = errors.New("order not found")
	// ErrLineNotFound is returned when the order has no such line.
	ErrLineNotFound = errors.New("order line not found")
	// ErrInvalidTransition signals a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrStoreUnavailable indicates the order store dependency is not configured.
	ErrStoreUnavailable = errors.New("order: store unavailable")
)

// Line is a persisted order line. PromotionPercent is snapshotted at line
// creation so later promotion edits never reprice an existing order.
type Line struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	ProductID        uuid.UUID
	VariantID        *uuid.UUID
	UnitPrice        int64
	Qty              int32
	PromotionID      *uuid.UUID
	PromotionPercent int64
}

// Order is the aggregate the pricing and voucher engines operate on. Owner
// attributes are snapshotted from the creating identity.
type Order struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	BranchID           uuid.UUID
	Status             string
	VoucherID          *uuid.UUID
	OwnerRole          string
	OwnerPhone         string
	OwnerPhoneVerified bool
	CreatedAt          time.Time
	Lines              []Line
}

// Editable reports whether order contents and voucher may still change.
func (o Order) Editable() bool {
	return o.Status == StatusPending
}

// PricingLines converts persisted lines into the calculator's input shape.
func (o Order) PricingLines() []pricing.Line {
	out := make([]pricing.Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		out = append(out, pricing.Line{
			ID:               l.ID,
			ProductID:        l.ProductID,
			UnitPrice:        l.UnitPrice,
			Qty:              int(l.Qty),
			PromotionPercent: l.PromotionPercent,
		})
	}
	return out
}

// VoucherContext builds the snapshot the voucher ledger evaluates against.
func (o Order) VoucherContext() voucher.OrderContext {
	return voucher.OrderContext{
		ID:        o.ID,
		VoucherID: o.VoucherID,
		Lines:     o.PricingLines(),
		Owner: voucher.Owner{
			Role:          o.OwnerRole,
			Phone:         o.OwnerPhone,
			PhoneVerified: o.OwnerPhoneVerified,
		},
		Editable: o.Editable(),
	}
}

// Store persists orders and their lines in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const orderColumns = `id, user_id, branch_id, status, voucher_id, owner_role, owner_phone,
owner_phone_verified, created_at`

// Create inserts the order and its lines in one transaction.
func (s *Store) Create(ctx context.Context, o Order) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `INSERT INTO orders
(id, user_id, branch_id, status, owner_role, owner_phone, owner_phone_verified, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
RETURNING created_at`,
		o.ID, o.UserID, o.BranchID, StatusPending, o.OwnerRole, o.OwnerPhone, o.OwnerPhoneVerified).
		Scan(&o.CreatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = StatusPending
	for i := range o.Lines {
		line := &o.Lines[i]
		line.OrderID = o.ID
		_, err = tx.Exec(ctx, `INSERT INTO order_lines
(id, order_id, product_id, variant_id, unit_price, qty, promotion_id, promotion_percent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			line.ID, line.OrderID, line.ProductID, line.VariantID,
			line.UnitPrice, line.Qty, line.PromotionID, line.PromotionPercent)
		if err != nil {
			return Order{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetByID loads an order with its lines.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	var o Order
	err := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.UserID, &o.BranchID, &o.Status, &o.VoucherID,
			&o.OwnerRole, &o.OwnerPhone, &o.OwnerPhoneVerified, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, order_id, product_id, variant_id, unit_price, qty,
promotion_id, promotion_percent
FROM order_lines WHERE order_id = $1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.VariantID,
			&l.UnitPrice, &l.Qty, &l.PromotionID, &l.PromotionPercent); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

// ListForUser returns the user's orders, newest first.
func (s *Store) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+`
FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.BranchID, &o.Status, &o.VoucherID,
			&o.OwnerRole, &o.OwnerPhone, &o.OwnerPhoneVerified, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AddLine appends a line to a pending order.
func (s *Store) AddLine(ctx context.Context, orderID uuid.UUID, l Line) (Line, error) {
	if s == nil || s.pool == nil {
		return Line{}, ErrStoreUnavailable
	}
	l.OrderID = orderID
	tag, err := s.pool.Exec(ctx, `INSERT INTO order_lines
(id, order_id, product_id, variant_id, unit_price, qty, promotion_id, promotion_percent)
SELECT $1, o.id, $3, $4, $5, $6, $7, $8
FROM orders o WHERE o.id = $2 AND o.status = $9`,
		l.ID, orderID, l.ProductID, l.VariantID, l.UnitPrice, l.Qty,
		l.PromotionID, l.PromotionPercent, StatusPending)
	if err != nil {
		return Line{}, err
	}
	if tag.RowsAffected() == 0 {
		return Line{}, ErrInvalidTransition
	}
	return l, nil
}

// UpdateLineQty changes a line quantity on a pending order.
func (s *Store) UpdateLineQty(ctx context.Context, orderID, lineID uuid.UUID, qty int32) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE order_lines ol SET qty = $3
FROM orders o
WHERE ol.id = $2 AND ol.order_id = $1 AND o.id = ol.order_id AND o.status = $4`,
		orderID, lineID, qty, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// RemoveLine deletes a line from a pending order.
func (s *Store) RemoveLine(ctx context.Context, orderID, lineID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM order_lines ol
USING orders o
WHERE ol.id = $2 AND ol.order_id = $1 AND o.id = ol.order_id AND o.status = $3`,
		orderID, lineID, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// Transition moves the order from one status to another. The conditional
// update makes concurrent transitions race-safe: only one caller observes
// a row change.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListOverdueUnpaid returns pending orders created at or before the cutoff.
// The worker rescans these at startup so cancellation never depends on a
// scheduled task surviving a restart.
func (s *Store) ListOverdueUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM orders
WHERE status = $1 AND created_at <= $2
ORDER BY created_at ASC LIMIT $3`, StatusPending, cutoff, limit)
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
