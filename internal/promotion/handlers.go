package promotion

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-resto/internal/common"
)

// Handler exposes staff-facing promotion management endpoints.
type Handler struct {
	Store    Store
	Resolver Resolver
	Validate *validator.Validate
}

type createPayload struct {
	BranchID   string    `json:"branchId" validate:"required,uuid4"`
	Value      int64     `json:"value" validate:"required,gt=0,lte=100"`
	StartDate  time.Time `json:"startDate" validate:"required"`
	EndDate    time.Time `json:"endDate" validate:"required"`
	ProductIDs []string  `json:"productIds" validate:"required,min=1,dive,uuid4"`
}

// Create registers a new percentage promotion for a branch.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion store not configured", nil)
		return
	}
	var payload createPayload
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
	branchID, err := uuid.Parse(payload.BranchID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid branch id", nil)
		return
	}
	productIDs := make([]uuid.UUID, 0, len(payload.ProductIDs))
	for _, raw := range payload.ProductIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
			return
		}
		productIDs = append(productIDs, id)
	}
	promo := Promotion{
		BranchID:  branchID,
		Value:     payload.Value,
		StartDate: payload.StartDate,
		EndDate:   payload.EndDate,
	}
	if err := h.Resolver.ValidateWindow(promo); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PROMOTION_WINDOW", err.Error(), nil)
		return
	}
	created, err := h.Store.Create(r.Context(), promo, productIDs)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create promotion", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

// ListByBranch returns a branch's promotions.
func (h *Handler) ListByBranch(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promotion store not configured", nil)
		return
	}
	branchID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "branchID")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid branch id", nil)
		return
	}
	promos, err := h.Store.ListByBranch(r.Context(), branchID, 50, 0)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list promotions", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": promos})
}
