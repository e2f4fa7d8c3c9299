package payment

import (
	"errors"
	"net/http"

	"github.com/noah-isme/mwire-gateway/internal/common"
)

var (
	// ErrMissingCredentials is returned before any network call when the
	// merchant id or API key is not configured.
	ErrMissingCredentials = errors.New("payment: merchant credentials not configured")
	// ErrAgreementCreationFailed covers transport failures and non-created processor answers.
	ErrAgreementCreationFailed = errors.New("payment: agreement creation failed")
	ErrOrderNotFound           = errors.New("payment: order not found")
	ErrMissingBillingEmail     = errors.New("payment: order has no billing email")

	ErrEmptyNotificationBody          = errors.New("payment: empty notification body")
	ErrInvalidNotification            = errors.New("payment: invalid notification")
	ErrMalformedPayload               = errors.New("payment: notification has no order number")
	ErrUnknownOrder                   = errors.New("payment: notification references unknown order")
	ErrAuthenticationOrAmountMismatch = errors.New("payment: issuer or amount mismatch")
	ErrInvalidPayload                 = errors.New("payment: invalid notification payload")
	// ErrPINConflict is returned when a notification carries a PIN different
	// from the one already attached to the order.
	ErrPINConflict = errors.New("payment: pin conflict")
	// ErrPINNotAttached is returned for a redemption that arrives before the sale.
	ErrPINNotAttached = errors.New("payment: no pin attached")

	ErrMissingParameters    = errors.New("payment: missing parameters")
	ErrAuthenticationFailed = errors.New("payment: authentication failed")
)

// notificationError maps reconciliation failures onto the IPN response.
func notificationError(err error) *common.AppError {
	switch {
	case errors.Is(err, ErrEmptyNotificationBody):
		return common.NewAppError("EMPTY_BODY", "notification body is empty", http.StatusBadRequest, err)
	case errors.Is(err, ErrMalformedPayload):
		return common.NewAppError("MALFORMED_PAYLOAD", "notification payload is malformed", http.StatusBadRequest, err)
	case errors.Is(err, ErrInvalidNotification), errors.Is(err, ErrAuthenticationOrAmountMismatch):
		return common.NewAppError("NOTIFICATION_REJECTED", "notification could not be verified", http.StatusUnauthorized, err)
	case errors.Is(err, ErrUnknownOrder):
		return common.NewAppError("UNKNOWN_ORDER", "order not found", http.StatusNotFound, err)
	case errors.Is(err, ErrPINConflict), errors.Is(err, ErrPINNotAttached):
		return common.NewAppError("PIN_CONFLICT", "notification conflicts with order state", http.StatusConflict, err)
	case errors.Is(err, ErrInvalidPayload):
		return common.NewAppError("INVALID_PAYLOAD", "notification payload is invalid", http.StatusUnprocessableEntity, err)
	default:
		return common.NewAppError("INTERNAL", "notification could not be processed", http.StatusInternalServerError, err)
	}
}

// resultLabel is the metric label for an error outcome.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyNotificationBody):
		return "empty_body"
	case errors.Is(err, ErrInvalidNotification):
		return "invalid_notification"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrUnknownOrder):
		return "unknown_order"
	case errors.Is(err, ErrAuthenticationOrAmountMismatch):
		return "auth_or_amount_mismatch"
	case errors.Is(err, ErrPINConflict):
		return "pin_conflict"
	case errors.Is(err, ErrPINNotAttached):
		return "pin_not_attached"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ErrAgreementCreationFailed):
		return "failed"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrMissingBillingEmail):
		return "missing_billing_email"
	case errors.Is(err, ErrMissingParameters):
		return "missing_parameters"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth_failed"
	default:
		return "error"
	}
}
