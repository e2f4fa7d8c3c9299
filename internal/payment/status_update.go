package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/mwire-gateway/internal/common"
	"github.com/noah-isme/mwire-gateway/internal/obs"
	"github.com/noah-isme/mwire-gateway/internal/order"
	"github.com/noah-isme/mwire-gateway/internal/security"
)

// BackendConfirmationNote is attached when the backend confirms payment.
const BackendConfirmationNote = "Payment received from backend confirmation"

// OrderRef is an order id that accepts both JSON strings and numbers.
type OrderRef string

// UnmarshalJSON implements json.Unmarshaler.
func (o *OrderRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = OrderRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("orderId must be a string or number: %w", err)
	}
	*o = OrderRef(n.String())
	return nil
}

// StatusUpdateRequest is the body pushed by the processor backend.
type StatusUpdateRequest struct {
	OrderID     OrderRef `json:"orderId" validate:"required"`
	MerchantID  string   `json:"merchantId" validate:"required"`
	AdminAPIKey string   `json:"adminApiKey" validate:"required"`
}

var requestValidator = validator.New()

// StatusUpdater lets a trusted backend move an order to processing with the
// merchant id and admin key as shared secrets.
type StatusUpdater struct {
	Store      order.Store
	MerchantID string
	AdminKey   security.AdminKey
	Logger     zerolog.Logger
}

// UpdateOrderStatus validates the credentials and marks the order as processing.
func (s *StatusUpdater) UpdateOrderStatus(ctx context.Context, req StatusUpdateRequest) (err error) {
	ctx, span := otel.Tracer("payment.StatusUpdater").Start(ctx, "StatusUpdater.UpdateOrderStatus")
	defer span.End()
	defer func() {
		span.SetAttributes(attribute.String("payment.status_update.result", resultLabel(err)))
		if obs.StatusUpdateTotal != nil {
			obs.StatusUpdateTotal.WithLabelValues(resultLabel(err)).Inc()
		}
	}()

	req.MerchantID = strings.TrimSpace(req.MerchantID)
	if err := requestValidator.Struct(req); err != nil {
		return ErrMissingParameters
	}
	orderID := string(req.OrderID)
	span.SetAttributes(attribute.String("order.id", orderID))

	merchantOK := common.SecureEqual(req.MerchantID, s.MerchantID)
	keyOK := s.AdminKey.Verify(req.AdminAPIKey)
	if !merchantOK || !keyOK {
		s.Logger.Warn().
			Str("order_id", orderID).
			Bool("merchant_match", merchantOK).
			Msg("status_update_auth_failed")
		return ErrAuthenticationFailed
	}

	if err := s.Store.UpdateStatus(ctx, orderID, order.StatusProcessing, BackendConfirmationNote); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("update order status: %w", err)
	}
	s.Logger.Info().Str("order_id", orderID).Msg("status_update_applied")
	return nil
}

// StatusUpdateHandler serves the status-update endpoint. Its response bodies
// keep the flat {"error": ...} shape the processor backend expects.
type StatusUpdateHandler struct {
	Updater *StatusUpdater
}

// Handle implements http.HandlerFunc.
func (h StatusUpdateHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Updater == nil || h.Updater.Store == nil {
		common.JSON(w, http.StatusInternalServerError, map[string]string{"error": "Gateway not configured"})
		return
	}
	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]string{"error": "Missing parameters"})
		return
	}
	err := h.Updater.UpdateOrderStatus(r.Context(), req)
	switch {
	case err == nil:
		common.JSON(w, http.StatusOK, map[string]string{"message": "Order updated"})
	case errors.Is(err, ErrMissingParameters):
		common.JSON(w, http.StatusBadRequest, map[string]string{"error": "Missing parameters"})
	case errors.Is(err, ErrAuthenticationFailed):
		common.JSON(w, http.StatusForbidden, map[string]string{"error": "Authentication failed"})
	case errors.Is(err, ErrOrderNotFound):
		common.JSON(w, http.StatusNotFound, map[string]string{"error": "Order not found"})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("status_update_failed")
		common.JSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error"})
	}
}
