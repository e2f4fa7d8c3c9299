package order

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/mwire-gateway/internal/common"
)

// Handler serves shopper facing order endpoints.
type Handler struct {
	Store Store
}

// EGift returns the eGift certificate PIN for the order-received page. The
// caller proves ownership with the billing email.
func (h *Handler) EGift(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if orderID == "" || email == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order id and email are required", nil)
		return
	}
	ord, err := h.Store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if !common.SecureEqual(strings.ToLower(strings.TrimSpace(ord.Billing.Email)), email) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	pin, ok := ord.PIN()
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PIN_NOT_ISSUED", "no eGift certificate issued for this order yet", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"orderId": ord.ID,
		"status":  ord.Status,
		"label":   "eGift Certificate",
		"pin":     pin,
	})
}
