package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func routed(method, pattern string, handler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Method(method, pattern, handler)
	return r
}

func TestEGiftReturnsPINForBillingEmail(t *testing.T) {
	seeded := seedOrder("42", StatusOnHold)
	seeded.Meta = map[string]string{PINMetaKey: "ABCD-1234"}
	h := &Handler{Store: NewMemoryStore(seeded)}
	srv := routed(http.MethodGet, "/orders/{orderId}/egift", h.EGift)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/42/egift?email=Buyer@Example.com", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ABCD-1234", body["pin"])

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/42/egift?email=someone@else.com", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/42/egift", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEGiftWithoutPIN(t *testing.T) {
	h := &Handler{Store: NewMemoryStore(seedOrder("42", StatusOnHold))}
	srv := routed(http.MethodGet, "/orders/{orderId}/egift", h.EGift)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/42/egift?email=buyer@example.com", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "PIN_NOT_ISSUED")
}

func acknowledged(ord Order) Order {
	ord.Notes = append(ord.Notes, Note{ID: 1, Text: AgreementAcknowledgedNote + " Order status changed from Pending to On hold."})
	return ord
}

func TestAdminHoldFlow(t *testing.T) {
	store := NewMemoryStore(acknowledged(seedOrder("7", StatusFailed)), seedOrder("8", StatusProcessing))
	h := &AdminHandler{Store: store, Logger: zerolog.Nop()}
	srv := routed(http.MethodPost, "/orders/{orderId}/hold", h.Hold)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/7/hold", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	ord, err := store.Get(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, StatusOnHold, ord.Status)
	require.Len(t, ord.Notes, 3)
	require.Equal(t, HoldTriggeredNote, ord.Notes[1].Text)
	require.Equal(t, HoldNote+" Order status changed from Failed to On hold.", ord.Notes[2].Text)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/8/hold", nil))
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/nope/hold", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminListAndGet(t *testing.T) {
	store := NewMemoryStore(seedOrder("1", StatusPending), seedOrder("2", StatusPending))
	h := &AdminHandler{Store: store, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Get("/orders", h.List)
	r.Get("/orders/{orderId}", h.Get)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders?limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "2", rr.Header().Get("X-Total-Count"))

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var ord Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ord))
	require.Equal(t, "1", ord.ID)
	require.Equal(t, "20", ord.Total.String())
}

func TestAdminHoldRequiresAcknowledgedAgreement(t *testing.T) {
	store := NewMemoryStore(seedOrder("9", StatusPending))
	h := &AdminHandler{Store: store, Logger: zerolog.Nop()}
	srv := routed(http.MethodPost, "/orders/{orderId}/hold", h.Hold)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/9/hold", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "AGREEMENT_REQUIRED")

	ord, err := store.Get(context.Background(), "9")
	require.NoError(t, err)
	require.Equal(t, StatusPending, ord.Status)
	require.Empty(t, ord.Notes)
}
