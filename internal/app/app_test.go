package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mwire-gateway/internal/audit"
	"github.com/noah-isme/mwire-gateway/internal/config"
	"github.com/noah-isme/mwire-gateway/internal/order"
	"github.com/noah-isme/mwire-gateway/internal/payment"
	"github.com/noah-isme/mwire-gateway/internal/token"
)

const signingSecret = "app-test-signing-secret"

type stubProcessor struct {
	created bool
	wallet  string
}

func (s *stubProcessor) CreateAgreement(context.Context, payment.AgreementRequest) (payment.AgreementResult, error) {
	if s.created {
		return payment.AgreementResult{HTTPStatus: http.StatusCreated}, nil
	}
	return payment.AgreementResult{HTTPStatus: http.StatusBadRequest}, nil
}

func (s *stubProcessor) MerchantWallet(context.Context, string, string) (string, error) {
	return s.wallet, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                 "test",
		MerchantID:             "merchant-1",
		APIID:                  "merchant-1",
		APIKey:                 "api-key",
		AdminAPIKey:            "admin-secret",
		SigningSecret:          signingSecret,
		TokenAlgorithms:        "HS256",
		TokenTTL:               time.Hour,
		ProcessorBaseURL:       "http://processor.invalid",
		ProcessorTimeout:       time.Second,
		ReturnURLBase:          "https://shop.example.com",
		GatewayEnabled:         true,
		MinimumOrderTotal:      decimal.NewFromInt(50),
		AmountTolerance:        decimal.RequireFromString("0.10"),
		IPNReplayTTL:           time.Hour,
		IPNLockTTL:             time.Second,
		IdempotencyTTL:         time.Minute,
		StatusUpdateRateLimit:  2,
		StatusUpdateRateWindow: time.Minute,
		RateLimitBackend:       "sliding",
		BodyLimitBytes:         4096,
		BreakerMinRequests:     5,
		BreakerFailureRatio:    0.5,
		BreakerOpenFor:         time.Second,
	}
}

func seeded(id string, status order.Status) order.Order {
	return order.Order{
		ID:      id,
		Total:   decimal.NewFromInt(60),
		Status:  status,
		Billing: order.Billing{Email: "buyer@example.com", FirstName: "Ada", LastName: "Lovelace"},
	}
}

func acknowledged(ord order.Order) order.Order {
	ord.Notes = []order.Note{{ID: 1, Text: order.AgreementAcknowledgedNote}}
	return ord
}

func newTestApp(t *testing.T, cfg *config.Config, store order.Store) *App {
	t.Helper()
	return newTestAppWithAudit(t, cfg, store, nil)
}

func newTestAppWithAudit(t *testing.T, cfg *config.Config, store order.Store, trail audit.Store) *App {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a, err := New(Dependencies{
		Config:    cfg,
		Logger:    zerolog.Nop(),
		Store:     store,
		Redis:     client,
		Processor: &stubProcessor{created: true, wallet: "0xabc"},
		Audit:     trail,
	})
	require.NoError(t, err)
	return a
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestNewRequiresConfigAndStore(t *testing.T) {
	_, err := New(Dependencies{})
	require.Error(t, err)
	_, err = New(Dependencies{Config: testConfig()})
	require.Error(t, err)

	cfg := testConfig()
	cfg.TokenAlgorithms = "RS256"
	_, err = New(Dependencies{Config: cfg, Store: order.NewMemoryStore()})
	require.ErrorIs(t, err, token.ErrUnsupportedAlgorithm)
}

func TestPaymentFlowThroughRouter(t *testing.T) {
	store := order.NewMemoryStore(seeded("500", order.StatusPending))
	a := newTestApp(t, testConfig(), store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/agreements", strings.NewReader(`{"orderId":"500"}`))
	req.Header.Set("Idempotency-Key", "checkout-500")
	rr := serve(a.Router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "/checkout/order-received/500")
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/agreements", strings.NewReader(`{"orderId":"500"}`))
	req.Header.Set("Idempotency-Key", "checkout-500")
	require.Equal(t, http.StatusConflict, serve(a.Router, req).Code)

	codec := token.NewCodec([]byte(signingSecret), "")
	claims := token.NewClaims("merchant-1", time.Now(), time.Hour)
	claims.Set("orderNumber", "500")
	claims.Set("status", payment.StatusSold)
	claims.Set("pin", "GIFT-1")
	claims.Set("amount", "60.00")
	sold, err := codec.Encode(claims)
	require.NoError(t, err)

	rr = serve(a.Router, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mwire", strings.NewReader(sold)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(a.Router, httptest.NewRequest(http.MethodGet, "/api/v1/orders/500/egift?email=buyer@example.com", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "GIFT-1")

	rr = serve(a.Router, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mwire", strings.NewReader(strings.Repeat("a", 5000))))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestStatusUpdateRoutesAreRateLimited(t *testing.T) {
	store := order.NewMemoryStore(seeded("9", order.StatusOnHold))
	a := newTestApp(t, testConfig(), store)

	body := `{"orderId":9,"merchantId":"merchant-1","adminApiKey":"admin-secret"}`
	rr := serve(a.Router, httptest.NewRequest(http.MethodPost, StatusUpdatePaths[1], strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	rr = serve(a.Router, httptest.NewRequest(http.MethodPost, StatusUpdatePaths[0], strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	rr = serve(a.Router, httptest.NewRequest(http.MethodPost, StatusUpdatePaths[0], strings.NewReader(body)))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	ord, err := store.Get(context.Background(), "9")
	require.NoError(t, err)
	require.Equal(t, order.StatusProcessing, ord.Status)
}

func TestAdminRoutesRequireBasicAuth(t *testing.T) {
	a := newTestApp(t, testConfig(), order.NewMemoryStore(acknowledged(seeded("1", order.StatusPending))))

	rr := serve(a.Router, httptest.NewRequest(http.MethodGet, "/api/v1/admin/gateway", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/gateway", nil)
	req.SetBasicAuth("merchant-1", "admin-secret")
	rr = serve(a.Router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "0xabc")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/1/hold", nil)
	req.SetBasicAuth("merchant-1", "admin-secret")
	require.Equal(t, http.StatusNoContent, serve(a.Router, req).Code)
}

func TestFixedWindowBackendAndMethodRoute(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitBackend = "fixed"
	a := newTestApp(t, cfg, order.NewMemoryStore())

	rr := serve(a.Router, httptest.NewRequest(http.MethodGet, "/api/v1/payments/methods/egift-certificate?total=75", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"available":true`)

	rr = serve(a.Router, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestAuditTrailRecordsOperatorAndBackendActions(t *testing.T) {
	cfg := testConfig()
	cfg.AuditEnabled = true
	cfg.AuditSamplingRate = 1
	trail := &audit.MemoryStore{}
	store := order.NewMemoryStore(acknowledged(seeded("1", order.StatusPending)), seeded("2", order.StatusOnHold))
	a := newTestAppWithAudit(t, cfg, store, trail)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/1/hold", nil)
	req.SetBasicAuth("merchant-1", "admin-secret")
	require.Equal(t, http.StatusNoContent, serve(a.Router, req).Code)

	body := `{"orderId":"2","merchantId":"merchant-1","adminApiKey":"wrong"}`
	rr := serve(a.Router, httptest.NewRequest(http.MethodPost, StatusUpdatePaths[0], strings.NewReader(body)))
	require.Equal(t, http.StatusForbidden, rr.Code)

	entries, err := trail.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "order.status_update", entries[0].Action)
	require.Equal(t, "backend", entries[0].ActorKind)
	require.Equal(t, http.StatusForbidden, entries[0].Status)
	require.Equal(t, "order.hold", entries[1].Action)
	require.Equal(t, "operator", entries[1].ActorKind)
	require.Equal(t, "merchant-1", entries[1].ActorID)
	require.Equal(t, "1", entries[1].ResourceID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit-logs", nil)
	req.SetBasicAuth("merchant-1", "admin-secret")
	rr = serve(a.Router, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "order.status_update")
}

func TestCodecToleratesConfiguredClockSkew(t *testing.T) {
	cfg := testConfig()
	cfg.TokenSkew = time.Minute
	codec, err := newCodec(cfg)
	require.NoError(t, err)

	ahead := token.NewClaims("merchant-1", time.Now().Add(40*time.Second), time.Hour)
	raw, err := codec.Encode(ahead)
	require.NoError(t, err)
	_, err = codec.Decode(raw)
	require.NoError(t, err)

	cfg.TokenSkew = 0
	strict, err := newCodec(cfg)
	require.NoError(t, err)
	_, err = strict.Decode(raw)
	require.ErrorIs(t, err, token.ErrMalformedToken)
}
