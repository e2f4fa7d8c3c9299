package payment

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mwire-gateway/internal/lock"
	"github.com/noah-isme/mwire-gateway/internal/order"
	"github.com/noah-isme/mwire-gateway/internal/token"
)

const (
	testSecret   = "test-signing-secret-0123"
	testIssuer   = "merchant-1"
	testAPIKey   = "api-key-9876"
	testAdminKey = "admin-key-5555"
)

func testCodec() *token.Codec {
	return token.NewCodec([]byte(testSecret), "")
}

func seedOrder(id string, status order.Status, total string) order.Order {
	return order.Order{
		ID:       id,
		Total:    decimal.RequireFromString(total),
		Currency: "USD",
		Status:   status,
		Billing:  order.Billing{Email: "buyer@example.com", FirstName: "Ada", LastName: "Lovelace"},
	}
}

func withPIN(ord order.Order, pin string) order.Order {
	ord.Meta = map[string]string{order.PINMetaKey: pin}
	return ord
}

// notification signs a processor notification for orderID.
func notification(t *testing.T, issuer, orderID, status, pin string, amount any) []byte {
	t.Helper()
	claims := token.NewClaims(issuer, time.Now(), time.Hour)
	if orderID != "" {
		claims.Set("orderNumber", orderID)
	}
	if status != "" {
		claims.Set("status", status)
	}
	if pin != "" {
		claims.Set("pin", pin)
	}
	if amount != nil {
		claims.Set("amount", amount)
	}
	raw, err := testCodec().Encode(claims)
	require.NoError(t, err)
	return []byte(raw)
}

func newReconciler(store order.Store) *Reconciler {
	return &Reconciler{
		Store:  store,
		Codec:  testCodec(),
		Issuer: testIssuer,
		Logger: zerolog.Nop(),
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func withRedis(t *testing.T, r *Reconciler) *miniredis.Miniredis {
	t.Helper()
	mr, client := newRedis(t)
	r.Replay = RedisReplayGuard{Client: client}
	r.ReplayTTL = time.Hour
	r.Locker = lock.Locker{R: client, RetryBackoff: 2 * time.Millisecond}
	r.LockTTL = time.Second
	return mr
}

func mustGet(t *testing.T, store order.Store, id string) order.Order {
	t.Helper()
	ord, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return ord
}
