package payment

import (
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/mwire-gateway/internal/common"
	"github.com/noah-isme/mwire-gateway/internal/obs"
)

// IPNHandler receives processor notifications. The raw body is the signed
// token. Any non-2xx answer tells the processor to deliver again.
type IPNHandler struct {
	Reconciler *Reconciler
}

// Handle implements http.HandlerFunc.
func (h IPNHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Reconciler == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "notifications unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}

	outcome, err := h.Reconciler.Reconcile(r.Context(), body)
	if obs.IPNTotal != nil {
		obs.IPNTotal.WithLabelValues(outcomeLabel(outcome, err), resultLabel(err)).Inc()
	}
	if err != nil {
		appErr := notificationError(err)
		evt := zerolog.Ctx(r.Context()).Warn()
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			evt = zerolog.Ctx(r.Context()).Error()
		}
		evt.Err(err).Str("client_ip", common.ClientIP(r)).Int("status", appErr.HTTPStatus).Msg("ipn_rejected")
		common.WriteError(w, appErr)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"result": "ok", "outcome": string(outcome)})
}

func outcomeLabel(outcome Outcome, err error) string {
	if err != nil {
		return "rejected"
	}
	return string(outcome)
}
