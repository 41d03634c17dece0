package voucher

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/backend-resto/internal/common"
	"github.com/noah-isme/backend-resto/internal/pricing"
)

// AppErrorFrom translates ledger and validator sentinels into the stable
// error codes surfaced to API clients. Unknown errors map to a generic
// internal failure.
func AppErrorFrom(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrNotFound):
		return common.NewAppError("VOUCHER_NOT_FOUND", "voucher not found", http.StatusNotFound, err)
	case errors.Is(err, ErrNotActive):
		return common.NewAppError("VOUCHER_IS_NOT_ACTIVE", "voucher is not active", http.StatusBadRequest, err)
	case errors.Is(err, ErrNoRemainingUsage):
		return common.NewAppError("VOUCHER_HAS_NO_REMAINING_USAGE", "voucher has no remaining usage", http.StatusConflict, err)
	case errors.Is(err, ErrBelowMinOrderValue):
		return common.NewAppError("ORDER_VALUE_LESS_THAN_MIN_ORDER_VALUE", "order value is less than min order value", http.StatusBadRequest, err)
	case errors.Is(err, ErrMustVerifyIdentity):
		return common.NewAppError("MUST_VERIFY_IDENTITY_TO_USE_VOUCHER", "must verify identity to use voucher", http.StatusBadRequest, err)
	case errors.Is(err, ErrMustBeCustomer):
		return common.NewAppError("USER_MUST_BE_CUSTOMER", "user must be customer", http.StatusForbidden, err)
	case errors.Is(err, ErrProductNotApplied):
		return common.NewAppError("PRODUCT_NOT_APPLIED_TO_VOUCHER", "product not applied to voucher", http.StatusBadRequest, err)
	case errors.Is(err, ErrAtLeastOneProductMustApply):
		return common.NewAppError("AT_LEAST_ONE_PRODUCT_MUST_BE_APPLIED_TO_VOUCHER", "at least one product must be applied to voucher", http.StatusBadRequest, err)
	case errors.Is(err, ErrAllProductsMustApply):
		return common.NewAppError("ALL_PRODUCT_MUST_BE_APPLIED_TO_VOUCHER", "all products must be applied to voucher", http.StatusBadRequest, err)
	case errors.Is(err, ErrSameVoucherApplied):
		return common.NewAppError("VOUCHER_ALREADY_USED", "voucher is the same as the previously applied one", http.StatusConflict, err)
	case errors.Is(err, ErrOrderNotEditable):
		return common.NewAppError("ORDER_NOT_PENDING", "order is not in an editable state", http.StatusConflict, err)
	case errors.Is(err, ErrInvalidKind):
		return common.NewAppError("INVALID_VOUCHER_TYPE", "invalid voucher type", http.StatusBadRequest, err)
	default:
		return common.NewAppError("INTERNAL", "voucher operation failed", http.StatusInternalServerError, err)
	}
}

// Handler exposes voucher listing and staff-facing management endpoints.
type Handler struct {
	Store    *Store
	Validate *validator.Validate
}

type voucherPayload struct {
	Code                 string    `json:"code" validate:"required,min=3,max=64"`
	Title                string    `json:"title" validate:"required"`
	Kind                 string    `json:"kind" validate:"required,oneof=PERCENT_ORDER FIXED_VALUE SAME_PRICE_PRODUCT"`
	Value                int64     `json:"value" validate:"required,gt=0"`
	MinOrderValue        int64     `json:"minOrderValue" validate:"gte=0"`
	StartDate            time.Time `json:"startDate" validate:"required"`
	EndDate              time.Time `json:"endDate" validate:"required"`
	MaxUsage             int32     `json:"maxUsage" validate:"required,gt=0"`
	IsPrivate            bool      `json:"isPrivate"`
	VerificationIdentity bool      `json:"isVerificationIdentity"`
	ProductIDs           []string  `json:"productIds" validate:"dive,uuid4"`
}

// Create inserts a new voucher.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	var payload voucherPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	v, err := buildVoucher(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	created, err := h.Store.Create(r.Context(), v)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "voucher code already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "CREATE_VOUCHER_FAILED", "failed to create voucher", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// List returns vouchers visible to the caller; private vouchers require an
// authenticated customer.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher store not configured", nil)
		return
	}
	identity, authed := common.IdentityFrom(r.Context())
	includePrivate := authed && identity.Role == common.RoleCustomer
	vouchers, err := h.Store.List(r.Context(), includePrivate, 50, 0)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "FIND_ALL_VOUCHER_FAILED", "failed to list vouchers", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": vouchers})
}

func buildVoucher(payload voucherPayload) (Voucher, error) {
	kind := pricing.VoucherKind(strings.TrimSpace(payload.Kind))
	switch kind {
	case pricing.KindPercentOrder, pricing.KindFixedValue, pricing.KindSamePriceProduct:
	default:
		return Voucher{}, ErrInvalidKind
	}
	if kind == pricing.KindPercentOrder && payload.Value > 100 {
		return Voucher{}, errors.New("percent voucher value must not exceed 100")
	}
	if payload.EndDate.Before(payload.StartDate) {
		return Voucher{}, errors.New("end date must not precede start date")
	}
	if kind == pricing.KindSamePriceProduct && len(payload.ProductIDs) == 0 {
		return Voucher{}, errors.New("same price voucher requires applicable products")
	}
	products := make([]uuid.UUID, 0, len(payload.ProductIDs))
	for _, raw := range payload.ProductIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return Voucher{}, errors.New("invalid product id")
		}
		products = append(products, id)
	}
	return Voucher{
		Code:                 strings.TrimSpace(payload.Code),
		Title:                strings.TrimSpace(payload.Title),
		Kind:                 kind,
		Value:                payload.Value,
		MinOrderValue:        payload.MinOrderValue,
		StartDate:            payload.StartDate,
		EndDate:              payload.EndDate,
		MaxUsage:             payload.MaxUsage,
		RemainingUsage:       payload.MaxUsage,
		IsActive:             true,
		IsPrivate:            payload.IsPrivate,
		VerificationIdentity: payload.VerificationIdentity,
		ApplicableProducts:   products,
	}, nil
}
