package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger is the only writer of voucher usage counts. Attach and detach run
// inside one transaction together with the order link so a failure anywhere
// rolls the counter back to its pre-attempt value.
type Ledger struct {
	Runner    TxRunner
	Validator Validator
	Lifecycle Lifecycle
	Now       func() time.Time
	Log       zerolog.Logger
}

func (l *Ledger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Attach validates the voucher against the order, consumes one usage and
// links the voucher to the order, all within a single transaction. When the
// order already carries a different voucher its usage is restored first, so a
// replace never leaks a decrement.
func (l *Ledger) Attach(ctx context.Context, order OrderContext, code string) (Voucher, error) {
	if l == nil || l.Runner == nil {
		return Voucher{}, errors.New("voucher ledger not configured")
	}
	if !order.Editable {
		return Voucher{}, ErrOrderNotEditable
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Voucher{}, fmt.Errorf("code is required: %w", ErrNotFound)
	}

	var attached Voucher
	err := l.Runner.InTx(ctx, func(q Querier) error {
		v, err := q.GetByCodeForUpdate(ctx, trimmed)
		if err != nil {
			return err
		}
		if order.VoucherID != nil && *order.VoucherID == v.ID {
			return ErrSameVoucherApplied
		}
		if order.VoucherID != nil {
			if err := l.release(ctx, q, *order.VoucherID); err != nil {
				return err
			}
		}
		if err := l.Validator.Validate(v, order, l.now()); err != nil {
			return err
		}

		remaining, ok, err := q.DecrementRemainingUsage(ctx, v.ID)
		if err != nil {
			return err
		}
		if !ok {
			// The eligibility read and the decrement can race with another
			// order's redemption; retry the conditional update once before
			// reporting exhaustion.
			remaining, ok, err = q.DecrementRemainingUsage(ctx, v.ID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNoRemainingUsage
			}
		}

		prevRemaining := v.RemainingUsage
		v.RemainingUsage = remaining
		if l.Lifecycle.Reconcile(&v, prevRemaining, l.now()) {
			if err := q.SetActive(ctx, v.ID, v.IsActive); err != nil {
				return err
			}
		}
		if err := q.LinkOrderVoucher(ctx, order.ID, v.ID); err != nil {
			return err
		}
		attached = v
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	l.Log.Info().
		Str("order_id", order.ID.String()).
		Str("voucher_code", attached.Code).
		Int32("remaining_usage", attached.RemainingUsage).
		Msg("voucher attached")
	return attached, nil
}

// Detach restores the attached voucher's usage and clears the order link.
// Detaching an order without a voucher is a no-op.
func (l *Ledger) Detach(ctx context.Context, order OrderContext) (*Voucher, error) {
	if l == nil || l.Runner == nil {
		return nil, errors.New("voucher ledger not configured")
	}
	if !order.Editable {
		return nil, ErrOrderNotEditable
	}
	if order.VoucherID == nil {
		return nil, nil
	}
	var released Voucher
	err := l.Runner.InTx(ctx, func(q Querier) error {
		v, err := l.releaseAndFetch(ctx, q, *order.VoucherID)
		if err != nil {
			return err
		}
		if err := q.UnlinkOrderVoucher(ctx, order.ID); err != nil {
			return err
		}
		released = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.Log.Info().
		Str("order_id", order.ID.String()).
		Str("voucher_code", released.Code).
		Int32("remaining_usage", released.RemainingUsage).
		Msg("voucher detached")
	return &released, nil
}

// ReleaseOnCancel restores usage for a voucher still linked to an order that
// is being cancelled. Unlike Detach it does not require the order to be
// editable; cancellation is the terminal transition.
func (l *Ledger) ReleaseOnCancel(ctx context.Context, order OrderContext) error {
	if l == nil || l.Runner == nil {
		return errors.New("voucher ledger not configured")
	}
	if order.VoucherID == nil {
		return nil
	}
	return l.Runner.InTx(ctx, func(q Querier) error {
		if err := l.release(ctx, q, *order.VoucherID); err != nil {
			return err
		}
		return q.UnlinkOrderVoucher(ctx, order.ID)
	})
}

// Revalidate re-runs the eligibility gate against the currently attached
// voucher after order contents or owner identity changed. On failure the
// voucher is force-detached and the specific reason is returned so the caller
// can notify the user instead of silently dropping the discount.
func (l *Ledger) Revalidate(ctx context.Context, order OrderContext) (error, error) {
	if l == nil || l.Runner == nil {
		return nil, errors.New("voucher ledger not configured")
	}
	if order.VoucherID == nil {
		return nil, nil
	}
	var reason error
	err := l.Runner.InTx(ctx, func(q Querier) error {
		v, err := q.GetByIDForUpdate(ctx, *order.VoucherID)
		if err != nil {
			return err
		}
		// The order under review already holds one usage. Credit it back for
		// the eligibility re-check so an order that consumed the last usage
		// is not detached for exhausting the voucher it legitimately holds.
		held := v
		held.RemainingUsage++
		if !held.IsActive && v.RemainingUsage == 0 {
			held.IsActive = true
		}
		vErr := l.Validator.Validate(held, order, l.now())
		if vErr == nil {
			return nil
		}
		reason = vErr
		if err := l.release(ctx, q, v.ID); err != nil {
			return err
		}
		return q.UnlinkOrderVoucher(ctx, order.ID)
	})
	if err != nil {
		return nil, err
	}
	if reason != nil {
		l.Log.Warn().
			Str("order_id", order.ID.String()).
			Str("reason", reason.Error()).
			Msg("voucher force-detached after order change")
	}
	return reason, nil
}

func (l *Ledger) release(ctx context.Context, q Querier, voucherID uuid.UUID) error {
	_, err := l.releaseAndFetch(ctx, q, voucherID)
	return err
}

func (l *Ledger) releaseAndFetch(ctx context.Context, q Querier, voucherID uuid.UUID) (Voucher, error) {
	v, err := q.GetByIDForUpdate(ctx, voucherID)
	if err != nil {
		return Voucher{}, err
	}
	remaining, err := q.RestoreRemainingUsage(ctx, v.ID)
	if err != nil {
		return Voucher{}, err
	}
	prevRemaining := v.RemainingUsage
	v.RemainingUsage = remaining
	if l.Lifecycle.Reconcile(&v, prevRemaining, l.now()) {
		if err := q.SetActive(ctx, v.ID, v.IsActive); err != nil {
			return Voucher{}, err
		}
	}
	return v, nil
}
