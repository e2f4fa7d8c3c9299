package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/mwire-gateway/internal/obs"
	"github.com/noah-isme/mwire-gateway/internal/order"
	"github.com/noah-isme/mwire-gateway/internal/token"
)

// AwaitingPaymentNote is attached when an agreement is acknowledged.
const AwaitingPaymentNote = order.AgreementAcknowledgedNote

// RedirectTarget is where the shopper continues after the agreement exists.
type RedirectTarget struct {
	OrderID string `json:"orderId"`
	URL     string `json:"redirect"`
}

// Credentials are the merchant credentials used for outbound calls.
type Credentials struct {
	MerchantID string
	// APIID is the issuer of signed claim sets; defaults to MerchantID.
	APIID      string
	APIKey     string
	ReceiverID string
}

func (c Credentials) issuer() string {
	if c.APIID != "" {
		return c.APIID
	}
	return c.MerchantID
}

// Configured reports whether outbound calls can be authenticated.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.MerchantID) != "" && strings.TrimSpace(c.APIKey) != ""
}

// Initiator creates processor agreements for orders.
type Initiator struct {
	Store         order.Store
	Processor     Processor
	Codec         *token.Codec
	Credentials   Credentials
	ReturnURLBase string
	TokenTTL      time.Duration
	Logger        zerolog.Logger

	now func() time.Time
}

// InitiateAgreement asks the processor for an agreement and, once it is
// acknowledged, puts the order on hold. Any failure before that leaves the
// order untouched. Calls are not idempotent.
func (i *Initiator) InitiateAgreement(ctx context.Context, orderID string) (target RedirectTarget, err error) {
	ctx, span := otel.Tracer("payment.Initiator").Start(ctx, "Initiator.InitiateAgreement")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))
	defer func() {
		result := resultLabel(err)
		span.SetAttributes(attribute.String("payment.agreement.result", result))
		if err != nil {
			span.SetStatus(codes.Error, result)
		}
		if obs.AgreementTotal != nil {
			obs.AgreementTotal.WithLabelValues(result).Inc()
		}
	}()

	if !i.Credentials.Configured() {
		i.Logger.Error().Str("order_id", orderID).Msg("agreement_missing_credentials")
		return RedirectTarget{}, ErrMissingCredentials
	}
	if i.Store == nil || i.Processor == nil {
		return RedirectTarget{}, errors.New("payment: initiator not configured")
	}

	ord, err := i.Store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return RedirectTarget{}, ErrOrderNotFound
		}
		return RedirectTarget{}, fmt.Errorf("load order: %w", err)
	}
	email := strings.TrimSpace(ord.Billing.Email)
	if email == "" {
		return RedirectTarget{}, ErrMissingBillingEmail
	}

	req := AgreementRequest{
		UserID:     email,
		ReceiverID: i.Credentials.ReceiverID,
		Amount:     json.Number(ord.Total.StringFixed(2)),
		OrderID:    ord.ID,
		MerchantID: i.Credentials.MerchantID,
		APIKey:     i.Credentials.APIKey,
		Name:       ord.Billing.FullName(),
	}
	if i.Codec != nil {
		claims := token.NewClaims(i.Credentials.issuer(), i.clock(), i.TokenTTL)
		claims.Set("orderNumber", ord.ID)
		claims.Set("receiverId", req.ReceiverID)
		claims.Set("userId", req.UserID)
		signed, err := i.Codec.Encode(claims)
		if err != nil {
			return RedirectTarget{}, fmt.Errorf("sign agreement claims: %w", err)
		}
		req.Token = signed
	}

	res, err := i.Processor.CreateAgreement(ctx, req)
	if err != nil {
		i.Logger.Warn().Err(err).Str("order_id", ord.ID).Msg("agreement_transport_failed")
		return RedirectTarget{}, fmt.Errorf("%w: %v", ErrAgreementCreationFailed, err)
	}
	if !res.Created() {
		i.Logger.Warn().
			Str("order_id", ord.ID).
			Int("http_status", res.HTTPStatus).
			Int("status_code", res.StatusCode).
			Msg("agreement_rejected")
		return RedirectTarget{}, ErrAgreementCreationFailed
	}

	if err := i.Store.UpdateStatus(ctx, ord.ID, order.StatusOnHold, AwaitingPaymentNote); err != nil {
		return RedirectTarget{}, fmt.Errorf("mark order on-hold: %w", err)
	}
	i.Logger.Info().Str("order_id", ord.ID).Msg("agreement_created")
	return RedirectTarget{OrderID: ord.ID, URL: i.returnURL(ord.ID)}, nil
}

func (i *Initiator) returnURL(orderID string) string {
	return strings.TrimRight(i.ReturnURLBase, "/") + "/checkout/order-received/" + url.PathEscape(orderID)
}

func (i *Initiator) clock() time.Time {
	if i.now != nil {
		return i.now()
	}
	return time.Now()
}
