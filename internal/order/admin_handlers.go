package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/mwire-gateway/internal/common"
)

// Notes written by the manual on-hold flow.
const (
	HoldTriggeredNote = "Custom on-hold flow triggered."
	HoldNote          = "Please check your email for further instructions."
)

// AdminHandler provides administrative order endpoints.
type AdminHandler struct {
	Store  Store
	Logger zerolog.Logger
}

// List returns a page of orders.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	pg := common.Pagination{Page: page, PerPage: perPage}
	orders, total, err := h.Store.List(r.Context(), perPage, pg.Offset())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list orders", nil)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data": orders,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

// Get returns one order with metadata and notes.
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	ord, err := h.Store.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	common.JSON(w, http.StatusOK, ord)
}

// Hold runs the manual on-hold flow for an order still awaiting payment whose
// agreement was acknowledged by the processor.
func (h *AdminHandler) Hold(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderId")
	ord, err := h.Store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if !ord.Status.AwaitingPayment() {
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "order is not awaiting payment", map[string]any{"status": ord.Status})
		return
	}
	if !ord.AgreementAcknowledged() {
		common.JSONError(w, http.StatusConflict, "AGREEMENT_REQUIRED", "no payment agreement was acknowledged for this order", nil)
		return
	}
	if err := h.Store.AppendNote(ctx, orderID, HoldTriggeredNote); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update order", nil)
		return
	}
	if err := h.Store.UpdateStatus(ctx, orderID, StatusOnHold, HoldNote); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update order", nil)
		return
	}
	h.Logger.Info().Str("order_id", orderID).Str("from_status", string(ord.Status)).Msg("order_manual_hold")
	w.WriteHeader(http.StatusNoContent)
}
