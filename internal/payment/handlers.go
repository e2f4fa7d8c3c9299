package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/mwire-gateway/internal/common"
	"github.com/noah-isme/mwire-gateway/internal/order"
)

// GatewayHandler exposes the payment method to the storefront and operators.
type GatewayHandler struct {
	Gateway Method
	Store   order.Store
	Logger  zerolog.Logger
}

type methodResp struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// Method returns the checkout presentation data and whether the gateway is
// offered for the cart described by the query (total, currency, country).
func (h *GatewayHandler) Method(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment method unavailable", nil)
		return
	}
	q := r.URL.Query()
	cart := Cart{
		Currency: strings.TrimSpace(q.Get("currency")),
		Country:  strings.TrimSpace(q.Get("country")),
	}
	if raw := strings.TrimSpace(q.Get("total")); raw != "" {
		total, err := decimal.NewFromString(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "total must be a decimal amount", nil)
			return
		}
		cart.Total = total
	}
	common.JSON(w, http.StatusOK, methodResp{
		ID:          MethodID,
		Title:       MethodTitle,
		Description: MethodDescription,
		Available:   h.Gateway.IsAvailable(cart),
	})
}

type initiateReq struct {
	OrderID OrderRef `json:"orderId"`
}

// Initiate creates the processor agreement for an order awaiting payment and
// returns the shopper redirect.
func (h *GatewayHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment method unavailable", nil)
		return
	}
	var req initiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	orderID := string(req.OrderID)
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}
	ord, err := h.Store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load order", nil)
		return
	}
	if !ord.Status.AwaitingPayment() {
		common.JSONError(w, http.StatusConflict, "INVALID_STATE", "order is not awaiting payment", map[string]any{"status": ord.Status})
		return
	}

	target, err := h.Gateway.InitiateAgreement(r.Context(), orderID)
	if err != nil {
		h.Logger.Warn().Err(err).Str("order_id", orderID).Msg("agreement_failed")
		common.WriteError(w, agreementError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"result": "success", "orderId": target.OrderID, "redirect": target.URL})
}

// Admin returns the operator settings view.
func (h *GatewayHandler) Admin(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment method unavailable", nil)
		return
	}
	opts, err := h.Gateway.AdminOptions(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load gateway settings", nil)
		return
	}
	common.JSON(w, http.StatusOK, opts)
}

// agreementError hides failure detail from shoppers; they only learn whether
// trying again may help.
func agreementError(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err)
	case errors.Is(err, ErrMissingBillingEmail):
		return common.NewAppError("BILLING_EMAIL_REQUIRED", "a billing email is required for this payment method", http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrMissingCredentials):
		return common.NewAppError("PAYMENT_UNAVAILABLE", "this payment method is currently unavailable", http.StatusServiceUnavailable, err)
	case errors.Is(err, ErrAgreementCreationFailed):
		return common.NewAppError("PAYMENT_RETRY", "could not initiate payment agreement, please try again later", http.StatusBadGateway, err)
	default:
		return common.NewAppError("INTERNAL", "there was an issue processing your payment, please contact support", http.StatusInternalServerError, err)
	}
}
