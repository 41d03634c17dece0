package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-resto/internal/events"
	"github.com/noah-isme/backend-resto/internal/obs"
	"github.com/noah-isme/backend-resto/internal/pricing"
	"github.com/noah-isme/backend-resto/internal/promotion"
	"github.com/noah-isme/backend-resto/internal/voucher"
)

// Cancellation triggers recorded on events and metrics.
const (
	TriggerUser    = "user"
	TriggerTimeout = "timeout"
	TriggerRescan  = "rescan"
)

// OrderStore is the persistence surface the service needs.
type OrderStore interface {
	Create(ctx context.Context, o Order) (Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Order, error)
	AddLine(ctx context.Context, orderID uuid.UUID, l Line) (Line, error)
	UpdateLineQty(ctx context.Context, orderID, lineID uuid.UUID, qty int32) error
	RemoveLine(ctx context.Context, orderID, lineID uuid.UUID) error
	Transition(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	ListOverdueUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// VoucherReader loads vouchers for display pricing.
type VoucherReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (voucher.Voucher, error)
}

// VoucherLedger is the transactional voucher usage surface.
type VoucherLedger interface {
	Attach(ctx context.Context, order voucher.OrderContext, code string) (voucher.Voucher, error)
	Detach(ctx context.Context, order voucher.OrderContext) (*voucher.Voucher, error)
	ReleaseOnCancel(ctx context.Context, order voucher.OrderContext) error
	Revalidate(ctx context.Context, order voucher.OrderContext) (error, error)
}

// PromotionSource resolves the active promotion for a product.
type PromotionSource interface {
	ActiveForProduct(ctx context.Context, branchID, productID uuid.UUID, at time.Time) (*promotion.Promotion, error)
}

// Canceller schedules and revokes delayed cancellations.
type Canceller interface {
	Schedule(ctx context.Context, orderID uuid.UUID, delay time.Duration) error
	Revoke(ctx context.Context, orderID uuid.UUID) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Mutex serialises voucher mutations against the same order across replicas.
type Mutex interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service orchestrates order lifecycle, pricing and voucher attachment.
type Service struct {
	Orders     OrderStore
	Vouchers   VoucherReader
	Ledger     VoucherLedger
	Promotions PromotionSource
	Resolver   promotion.Resolver
	Scheduler  Canceller
	Bus        Emitter
	Locker     Mutex
	Metrics    *obs.DomainMetrics
	Log        zerolog.Logger
	UnpaidTTL  time.Duration
	LockTTL    time.Duration
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) unpaidTTL() time.Duration {
	if s.UnpaidTTL > 0 {
		return s.UnpaidTTL
	}
	return 15 * time.Minute
}

func voucherLockKey(orderID uuid.UUID) string {
	return "order:voucher:" + orderID.String()
}

// ItemInput describes one requested order line.
type ItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	UnitPrice int64
	Qty       int32
}

// CreateInput carries everything needed to open a pending order.
type CreateInput struct {
	UserID             uuid.UUID
	BranchID           uuid.UUID
	OwnerRole          string
	OwnerPhone         string
	OwnerPhoneVerified bool
	Items              []ItemInput
}

// Create opens a pending order, snapshotting the active promotion percent per
// line, and schedules the delayed unpaid cancellation.
func (s *Service) Create(ctx context.Context, in CreateInput) (Order, error) {
	if len(in.Items) == 0 {
		return Order{}, errors.New("order requires at least one item")
	}
	o := Order{
		ID:                 uuid.New(),
		UserID:             in.UserID,
		BranchID:           in.BranchID,
		OwnerRole:          in.OwnerRole,
		OwnerPhone:         in.OwnerPhone,
		OwnerPhoneVerified: in.OwnerPhoneVerified,
	}
	at := s.Resolver.BusinessDay(s.now())
	for _, item := range in.Items {
		line := Line{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			UnitPrice: item.UnitPrice,
			Qty:       item.Qty,
		}
		if s.Promotions != nil {
			p, err := s.Promotions.ActiveForProduct(ctx, in.BranchID, item.ProductID, at)
			if err != nil {
				return Order{}, err
			}
			if p != nil {
				id := p.ID
				line.PromotionID = &id
				line.PromotionPercent = p.Value
			}
		}
		o.Lines = append(o.Lines, line)
	}
	// Reject invalid quantities and prices before touching storage.
	if _, err := pricing.ComputeDisplay(o.PricingLines(), nil); err != nil {
		return Order{}, err
	}

	created, err := s.Orders.Create(ctx, o)
	if err != nil {
		return Order{}, err
	}
	if s.Scheduler != nil {
		if err := s.Scheduler.Schedule(ctx, created.ID, s.unpaidTTL()); err != nil {
			s.Log.Error().Err(err).Str("order_id", created.ID.String()).Msg("schedule unpaid cancellation")
		}
	}
	s.emit(ctx, events.TopicOrderCreated, created.ID, map[string]any{
		"userId":   created.UserID.String(),
		"branchId": created.BranchID.String(),
		"lines":    len(created.Lines),
	})
	return created, nil
}

// Quote is the full pricing breakdown for an order.
type Quote struct {
	Order  Order
	Lines  []pricing.DisplayLine
	Totals pricing.Totals
}

// Display prices the order with its attached voucher, if any.
func (s *Service) Display(ctx context.Context, orderID uuid.UUID) (Quote, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return Quote{}, err
	}
	return s.quote(ctx, o)
}

func (s *Service) quote(ctx context.Context, o Order) (Quote, error) {
	start := time.Now()
	var view *pricing.Voucher
	if o.VoucherID != nil && s.Vouchers != nil {
		v, err := s.Vouchers.GetByID(ctx, *o.VoucherID)
		if err != nil {
			return Quote{}, err
		}
		view = v.PricingView()
	}
	display, err := pricing.ComputeDisplay(o.PricingLines(), view)
	if err != nil {
		return Quote{}, err
	}
	totals := pricing.ComputeTotals(display, view)
	s.Metrics.RecordPricing(time.Since(start))
	return Quote{Order: o, Lines: display, Totals: totals}, nil
}

// ApplyVoucher attaches the voucher identified by code to the order. The
// per-order lock keeps concurrent apply/remove/item mutations serialised.
func (s *Service) ApplyVoucher(ctx context.Context, orderID uuid.UUID, code string) (voucher.Voucher, error) {
	var attached voucher.Voucher
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		attached, err = s.Ledger.Attach(ctx, o.VoucherContext(), code)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, voucher.ErrNoRemainingUsage):
			s.Metrics.RecordRedemption("exhausted")
		case voucher.AppErrorFrom(err).Code != "INTERNAL":
			s.Metrics.RecordRedemption("rejected")
		}
		return voucher.Voucher{}, err
	}
	s.Metrics.RecordRedemption("attached")
	s.emit(ctx, events.TopicVoucherApplied, orderID, map[string]any{
		"voucherId": attached.ID.String(),
		"code":      attached.Code,
	})
	return attached, nil
}

// RemoveVoucher detaches the order's voucher and restores its usage.
func (s *Service) RemoveVoucher(ctx context.Context, orderID uuid.UUID) error {
	var released *voucher.Voucher
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		released, err = s.Ledger.Detach(ctx, o.VoucherContext())
		return err
	})
	if err != nil {
		return err
	}
	if released != nil {
		s.Metrics.RecordRelease("detach")
		s.emit(ctx, events.TopicVoucherRemoved, orderID, map[string]any{
			"voucherId": released.ID.String(),
		})
	}
	return nil
}

// MutationResult reports an item change plus the voucher consequence, so a
// dropped discount is surfaced instead of silently disappearing.
type MutationResult struct {
	Order             Order
	DetachReason      error
	DetachedVoucherID *uuid.UUID
}

// AddItem appends a line to a pending order and re-validates the voucher.
func (s *Service) AddItem(ctx context.Context, orderID uuid.UUID, item ItemInput) (MutationResult, error) {
	return s.mutate(ctx, orderID, func(ctx context.Context, o Order) error {
		line := Line{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			UnitPrice: item.UnitPrice,
			Qty:       item.Qty,
		}
		if s.Promotions != nil {
			p, err := s.Promotions.ActiveForProduct(ctx, o.BranchID, item.ProductID, s.Resolver.BusinessDay(s.now()))
			if err != nil {
				return err
			}
			if p != nil {
				id := p.ID
				line.PromotionID = &id
				line.PromotionPercent = p.Value
			}
		}
		_, err := s.Orders.AddLine(ctx, orderID, line)
		return err
	})
}

// UpdateItemQty changes a line quantity and re-validates the voucher.
func (s *Service) UpdateItemQty(ctx context.Context, orderID, lineID uuid.UUID, qty int32) (MutationResult, error) {
	if qty < 1 {
		return MutationResult{}, errors.New("quantity must be at least 1")
	}
	return s.mutate(ctx, orderID, func(ctx context.Context, o Order) error {
		return s.Orders.UpdateLineQty(ctx, orderID, lineID, qty)
	})
}

// RemoveItem deletes a line and re-validates the voucher.
func (s *Service) RemoveItem(ctx context.Context, orderID, lineID uuid.UUID) (MutationResult, error) {
	return s.mutate(ctx, orderID, func(ctx context.Context, o Order) error {
		return s.Orders.RemoveLine(ctx, orderID, lineID)
	})
}

func (s *Service) mutate(ctx context.Context, orderID uuid.UUID, change func(context.Context, Order) error) (MutationResult, error) {
	var result MutationResult
	err := s.withOrderLock(ctx, orderID, func(ctx context.Context) error {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !o.Editable() {
			return voucher.ErrOrderNotEditable
		}
		if err := change(ctx, o); err != nil {
			return err
		}
		updated, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if updated.VoucherID != nil {
			detachedID := *updated.VoucherID
			reason, err := s.Ledger.Revalidate(ctx, updated.VoucherContext())
			if err != nil {
				return err
			}
			if reason != nil {
				result.DetachReason = reason
				result.DetachedVoucherID = &detachedID
				updated.VoucherID = nil
			}
		}
		result.Order = updated
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	if result.DetachReason != nil {
		s.Metrics.RecordForcedDetach(voucher.AppErrorFrom(result.DetachReason).Code)
		s.Metrics.RecordRelease("forced")
		s.emit(ctx, events.TopicVoucherForceRemoved, orderID, map[string]any{
			"voucherId": result.DetachedVoucherID.String(),
			"reason":    voucher.AppErrorFrom(result.DetachReason).Code,
		})
	}
	return result, nil
}

// MarkPaid finalises payment. The pending cancellation task is revoked; a
// repeated confirmation is a no-op.
func (s *Service) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	ok, err := s.Orders.Transition(ctx, orderID, StatusPending, StatusPaid)
	if err != nil {
		return err
	}
	if !ok {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == StatusPaid {
			return nil
		}
		return ErrInvalidTransition
	}
	if s.Scheduler != nil {
		if err := s.Scheduler.Revoke(ctx, orderID); err != nil {
			s.Log.Error().Err(err).Str("order_id", orderID.String()).Msg("revoke cancellation task")
		}
	}
	s.emit(ctx, events.TopicOrderPaid, orderID, nil)
	return nil
}

// CancelIfUnpaid cancels a pending order, releasing its voucher usage. It
// reports false without error when the order already left the pending state,
// which makes user cancellation, the delayed task and the startup rescan all
// idempotent against each other.
func (s *Service) CancelIfUnpaid(ctx context.Context, orderID uuid.UUID, trigger string) (bool, error) {
	ok, err := s.Orders.Transition(ctx, orderID, StatusPending, StatusCanceled)
	if err != nil {
		return false, err
	}
	if !ok {
		o, err := s.Orders.GetByID(ctx, orderID)
		if err != nil {
			return false, err
		}
		// A canceled order that still carries a voucher means an earlier
		// attempt committed the transition but failed before the release.
		// Finish the release here so retries heal the partial cancellation.
		if o.Status == StatusCanceled && o.VoucherID != nil {
			if err := s.Ledger.ReleaseOnCancel(ctx, o.VoucherContext()); err != nil {
				return false, err
			}
			s.Metrics.RecordRelease("cancel")
		}
		return false, nil
	}
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return true, err
	}
	if o.VoucherID != nil {
		if err := s.Ledger.ReleaseOnCancel(ctx, o.VoucherContext()); err != nil {
			return true, err
		}
		s.Metrics.RecordRelease("cancel")
	}
	if trigger != TriggerTimeout && s.Scheduler != nil {
		if err := s.Scheduler.Revoke(ctx, orderID); err != nil {
			s.Log.Error().Err(err).Str("order_id", orderID.String()).Msg("revoke cancellation task")
		}
	}
	s.Metrics.RecordCancellation(trigger)
	s.emit(ctx, events.TopicOrderCanceled, orderID, map[string]any{"trigger": trigger})
	return true, nil
}

func (s *Service) withOrderLock(ctx context.Context, orderID uuid.UUID, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return s.Locker.WithLock(ctx, voucherLockKey(orderID), ttl, fn)
}

func (s *Service) emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Log.Error().Err(err).Str("topic", topic).Msg("emit domain event")
	}
}
