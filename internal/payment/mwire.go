package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/mwire-gateway/internal/obs"
	"github.com/noah-isme/mwire-gateway/internal/resilience"
)

const (
	// AgreementPath creates a payment agreement for a merchant order.
	AgreementPath = "/create-new-agreement-from-merchant"
	// WalletPath returns the wallet assigned to a merchant.
	WalletPath = "/return-merchant-wallet-address"

	// NoWalletAssigned is shown when the wallet cannot be resolved.
	NoWalletAssigned = "No wallet assigned yet."

	defaultProcessorTimeout = 15 * time.Second
)

// ErrWalletUnavailable is returned when the processor has no wallet for the merchant.
var ErrWalletUnavailable = errors.New("payment: merchant wallet unavailable")

// AgreementRequest is the outbound agreement creation body. Amount is the
// order total in major currency units with two decimals.
type AgreementRequest struct {
	UserID     string      `json:"userId"`
	ReceiverID string      `json:"receiverId"`
	Amount     json.Number `json:"amount"`
	OrderID    string      `json:"orderId"`
	MerchantID string      `json:"merchantId"`
	APIKey     string      `json:"apiKey"`
	Name       string      `json:"name,omitempty"`
	Token      string      `json:"token,omitempty"`
}

// AgreementResult is the processor's synchronous answer.
type AgreementResult struct {
	HTTPStatus int
	// StatusCode is the statusCode field of the JSON body, zero when absent.
	StatusCode int
	Body       []byte
}

// Created reports whether the processor acknowledged the agreement. The
// statusCode field wins over the transport status when present.
func (r AgreementResult) Created() bool {
	if r.StatusCode != 0 {
		return r.StatusCode == http.StatusCreated
	}
	return r.HTTPStatus == http.StatusCreated
}

// Processor is the remote payment processor.
type Processor interface {
	CreateAgreement(ctx context.Context, req AgreementRequest) (AgreementResult, error)
	MerchantWallet(ctx context.Context, merchantID, apiKey string) (string, error)
}

// MWireConfig configures the processor client.
type MWireConfig struct {
	BaseURL   string
	Timeout   time.Duration
	Breaker   *resilience.Breaker
	Transport http.RoundTripper
	Logger    zerolog.Logger
	// Debug logs full processor response bodies.
	Debug bool
}

// MWire talks to the mWire processor API.
type MWire struct {
	client     *resty.Client
	agreements resilience.Call
	wallets    resilience.Call
	logger     zerolog.Logger
	debug      bool
}

var _ Processor = (*MWire)(nil)

// NewMWire builds the processor client. Agreement creation is attempted once;
// wallet lookups are read-only and retried once.
func NewMWire(cfg MWireConfig) *MWire {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProcessorTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(transport)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &MWire{
		client:     client,
		agreements: resilience.Call{Breaker: cfg.Breaker, MaxAttempts: 1},
		wallets:    resilience.Call{Breaker: cfg.Breaker, MaxAttempts: 2, BaseBackoff: 200 * time.Millisecond, Jitter: 0.2},
		logger:     cfg.Logger,
		debug:      cfg.Debug,
	}
}

type agreementEnvelope struct {
	StatusCode *int `json:"statusCode"`
}

// CreateAgreement posts the agreement request. Transport failures and 5xx
// answers count against the breaker; other answers are returned for the
// caller to judge.
func (m *MWire) CreateAgreement(ctx context.Context, req AgreementRequest) (AgreementResult, error) {
	var result AgreementResult
	start := time.Now()
	err := m.agreements.Do(ctx, func(ctx context.Context) error {
		resp, err := m.client.R().SetContext(ctx).SetBody(req).Post(AgreementPath)
		if err != nil {
			return err
		}
		result = AgreementResult{HTTPStatus: resp.StatusCode(), Body: resp.Body()}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("processor answered %d", resp.StatusCode())
		}
		return nil
	})
	m.debugBody("agreement", result.HTTPStatus, result.Body)
	label := "ok"
	if err != nil {
		label = "error"
	}
	if obs.AgreementLatency != nil {
		obs.AgreementLatency.WithLabelValues(label).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		return result, err
	}

	var env agreementEnvelope
	if len(bytes.TrimSpace(result.Body)) > 0 {
		if jsonErr := json.Unmarshal(result.Body, &env); jsonErr != nil {
			m.logger.Warn().Err(jsonErr).Int("http_status", result.HTTPStatus).Msg("agreement_response_not_json")
		}
	}
	if env.StatusCode != nil {
		result.StatusCode = *env.StatusCode
	}
	return result, nil
}

type walletEnvelope struct {
	Body json.RawMessage `json:"body"`
}

type walletBody struct {
	Wallet string `json:"wallet"`
}

// MerchantWallet resolves the wallet the processor assigned to the merchant.
// The answer nests a JSON document inside the body string.
func (m *MWire) MerchantWallet(ctx context.Context, merchantID, apiKey string) (string, error) {
	if merchantID == "" || apiKey == "" {
		return "", ErrMissingCredentials
	}
	var wallet string
	err := m.wallets.Do(ctx, func(ctx context.Context) error {
		resp, err := m.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"merchant_id": merchantID, "api_key": apiKey}).
			Post(WalletPath)
		if err != nil {
			return err
		}
		m.debugBody("wallet", resp.StatusCode(), resp.Body())
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("processor answered %d", resp.StatusCode())
		}
		w, err := parseWallet(resp.Body())
		if err != nil {
			return resilience.Permanent(err)
		}
		wallet = w
		return nil
	})
	result := "ok"
	if err != nil {
		result = "error"
	}
	if obs.WalletLookupTotal != nil {
		obs.WalletLookupTotal.WithLabelValues(result).Inc()
	}
	return wallet, err
}

func parseWallet(raw []byte) (string, error) {
	var env walletEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Body) == 0 {
		return "", ErrWalletUnavailable
	}
	inner := []byte(env.Body)
	var nested string
	if err := json.Unmarshal(env.Body, &nested); err == nil {
		inner = []byte(nested)
	}
	var body walletBody
	if err := json.Unmarshal(inner, &body); err != nil || strings.TrimSpace(body.Wallet) == "" {
		return "", ErrWalletUnavailable
	}
	return strings.TrimSpace(body.Wallet), nil
}

func (m *MWire) debugBody(call string, status int, body []byte) {
	if !m.debug {
		return
	}
	m.logger.Debug().Str("call", call).Int("http_status", status).Bytes("body", body).Msg("processor_response")
}
