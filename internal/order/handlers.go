package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-resto/internal/common"
	"github.com/noah-isme/backend-resto/internal/pricing"
	"github.com/noah-isme/backend-resto/internal/voucher"
)

// Handler exposes the order endpoints.
type Handler struct {
	Service  *Service
	Validate *validator.Validate
}

type createItemPayload struct {
	ProductID string  `json:"productId" validate:"required,uuid4"`
	VariantID *string `json:"variantId" validate:"omitempty,uuid4"`
	UnitPrice int64   `json:"unitPrice" validate:"required,gt=0"`
	Qty       int32   `json:"qty" validate:"required,gte=1"`
}

type createPayload struct {
	BranchID string              `json:"branchId" validate:"required,uuid4"`
	Items    []createItemPayload `json:"items" validate:"required,min=1,dive"`
}

// Create opens a pending order for the authenticated caller.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	userID, err := uuid.Parse(identity.UserID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	var payload createPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	branchID, _ := uuid.Parse(payload.BranchID)
	in := CreateInput{
		UserID:             userID,
		BranchID:           branchID,
		OwnerRole:          identity.Role,
		OwnerPhone:         identity.Phone,
		OwnerPhoneVerified: identity.PhoneVerified,
	}
	for _, item := range payload.Items {
		productID, _ := uuid.Parse(item.ProductID)
		line := ItemInput{ProductID: productID, UnitPrice: item.UnitPrice, Qty: item.Qty}
		if item.VariantID != nil {
			variantID, _ := uuid.Parse(*item.VariantID)
			line.VariantID = &variantID
		}
		in.Items = append(in.Items, line)
	}
	created, err := h.Service.Create(r.Context(), in)
	if err != nil {
		common.RenderError(w, err, http.StatusInternalServerError)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": orderBody(created, nil, pricing.Totals{}, false)})
}

// Get returns the order with its full pricing breakdown.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	quote, err := h.Service.Display(r.Context(), orderID)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": orderBody(quote.Order, quote.Lines, quote.Totals, true)})
}

type applyVoucherPayload struct {
	Code string `json:"code" validate:"required,min=3,max=64"`
}

// ApplyVoucher attaches a voucher to the order.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	var payload applyVoucherPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	attached, err := h.Service.ApplyVoucher(r.Context(), orderID, payload.Code)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	quote, err := h.Service.Display(r.Context(), orderID)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"voucher": map[string]any{
			"id":             attached.ID.String(),
			"code":           attached.Code,
			"remainingUsage": attached.RemainingUsage,
		},
		"order": orderBody(quote.Order, quote.Lines, quote.Totals, true),
	}})
}

// RemoveVoucher detaches the order's voucher.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	if err := h.Service.RemoveVoucher(r.Context(), orderID); err != nil {
		h.renderOrderError(w, err)
		return
	}
	quote, err := h.Service.Display(r.Context(), orderID)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": orderBody(quote.Order, quote.Lines, quote.Totals, true)})
}

type addItemPayload struct {
	ProductID string  `json:"productId" validate:"required,uuid4"`
	VariantID *string `json:"variantId" validate:"omitempty,uuid4"`
	UnitPrice int64   `json:"unitPrice" validate:"required,gt=0"`
	Qty       int32   `json:"qty" validate:"required,gte=1"`
}

// AddItem appends a line to the order.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	var payload addItemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	productID, _ := uuid.Parse(payload.ProductID)
	item := ItemInput{ProductID: productID, UnitPrice: payload.UnitPrice, Qty: payload.Qty}
	if payload.VariantID != nil {
		variantID, _ := uuid.Parse(*payload.VariantID)
		item.VariantID = &variantID
	}
	result, err := h.Service.AddItem(r.Context(), orderID, item)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	h.renderMutation(w, r, orderID, result)
}

type updateQtyPayload struct {
	Qty int32 `json:"qty" validate:"required,gte=1"`
}

// UpdateItem changes a line quantity.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(chi.URLParam(r, "lineId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line id", nil)
		return
	}
	var payload updateQtyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	result, err := h.Service.UpdateItemQty(r.Context(), orderID, lineID, payload.Qty)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	h.renderMutation(w, r, orderID, result)
}

// RemoveItem deletes a line from the order.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	lineID, err := uuid.Parse(chi.URLParam(r, "lineId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line id", nil)
		return
	}
	result, err := h.Service.RemoveItem(r.Context(), orderID, lineID)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	h.renderMutation(w, r, orderID, result)
}

// Pay confirms payment for the order.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	if err := h.Service.MarkPaid(r.Context(), orderID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			common.JSONError(w, http.StatusConflict, "ORDER_NOT_PENDING", "only pending orders can be paid", nil)
			return
		}
		h.renderOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"status": StatusPaid}})
}

// Cancel cancels a pending order on behalf of its owner.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderForCaller(w, r)
	if !ok {
		return
	}
	canceled, err := h.Service.CancelIfUnpaid(r.Context(), orderID, TriggerUser)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	if !canceled {
		common.JSONError(w, http.StatusConflict, "ORDER_NOT_PENDING", "only pending orders can be canceled", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"status": StatusCanceled}})
}

// List returns the caller's orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	userID, err := uuid.Parse(identity.UserID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	orders, err := h.Service.Orders.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		common.RenderError(w, err, http.StatusInternalServerError)
		return
	}
	body := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		body = append(body, map[string]any{
			"id":        o.ID.String(),
			"status":    o.Status,
			"branchId":  o.BranchID.String(),
			"createdAt": o.CreatedAt.Format(time.RFC3339),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": body})
}

func (h *Handler) renderMutation(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, result MutationResult) {
	quote, err := h.Service.Display(r.Context(), orderID)
	if err != nil {
		h.renderOrderError(w, err)
		return
	}
	body := map[string]any{"order": orderBody(quote.Order, quote.Lines, quote.Totals, true)}
	if result.DetachReason != nil {
		appErr := voucher.AppErrorFrom(result.DetachReason)
		body["voucherRemoved"] = map[string]any{
			"voucherId": result.DetachedVoucherID.String(),
			"reason":    appErr.Code,
			"message":   appErr.Message,
		}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": body})
}

// orderForCaller parses the order id and checks the caller owns the order.
func (h *Handler) orderForCaller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	identity, ok := common.IdentityFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return uuid.Nil, false
	}
	o, err := h.Service.Orders.GetByID(r.Context(), orderID)
	if err != nil {
		h.renderOrderError(w, err)
		return uuid.Nil, false
	}
	if o.UserID.String() != identity.UserID {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return uuid.Nil, false
	}
	return orderID, true
}

func (h *Handler) renderOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrLineNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order line not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "ORDER_NOT_PENDING", "order is not in an editable state", nil)
	default:
		appErr := voucher.AppErrorFrom(err)
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
	}
}

func orderBody(o Order, lines []pricing.DisplayLine, totals pricing.Totals, priced bool) map[string]any {
	body := map[string]any{
		"id":        o.ID.String(),
		"status":    o.Status,
		"branchId":  o.BranchID.String(),
		"createdAt": o.CreatedAt.Format(time.RFC3339),
	}
	if o.VoucherID != nil {
		body["voucherId"] = o.VoucherID.String()
	}
	if !priced {
		items := make([]map[string]any, 0, len(o.Lines))
		for _, l := range o.Lines {
			items = append(items, map[string]any{
				"id":        l.ID.String(),
				"productId": l.ProductID.String(),
				"unitPrice": l.UnitPrice,
				"qty":       l.Qty,
			})
		}
		body["items"] = items
		return body
	}
	items := make([]map[string]any, 0, len(lines))
	for _, dl := range lines {
		items = append(items, map[string]any{
			"id":                  dl.LineID.String(),
			"productId":           dl.ProductID.String(),
			"qty":                 dl.Qty,
			"originalUnitPrice":   dl.OriginalUnitPrice,
			"priceAfterPromotion": dl.PriceAfterPromotion,
			"finalUnitPrice":      dl.FinalUnitPrice,
			"promotionDiscount":   dl.PromotionDiscount,
			"voucherLineDiscount": dl.VoucherLineDiscount,
		})
	}
	body["items"] = items
	body["totals"] = map[string]any{
		"subtotalBeforeDiscount": totals.SubtotalBeforeDiscount,
		"promotionDiscountTotal": totals.PromotionDiscountTotal,
		"voucherDiscountTotal":   totals.VoucherDiscountTotal,
		"finalTotal":             totals.FinalTotal,
	}
	return body
}
