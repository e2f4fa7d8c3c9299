package order

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func seedOrder(id string, status Status) Order {
	return Order{
		ID:      id,
		Total:   decimal.RequireFromString("20.00"),
		Status:  status,
		Billing: Billing{Email: "buyer@example.com", FirstName: "Ada", LastName: "Lovelace"},
	}
}

func TestMemoryStoreUpdateStatusWritesTransitionNote(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(seedOrder("1", StatusPending))

	require.NoError(t, store.UpdateStatus(ctx, "1", StatusOnHold, "Awaiting payment processing"))

	ord, err := store.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, StatusOnHold, ord.Status)
	require.Len(t, ord.Notes, 1)
	require.Equal(t, "Awaiting payment processing Order status changed from Pending to On hold.", ord.Notes[0].Text)

	require.ErrorIs(t, store.UpdateStatus(ctx, "missing", StatusOnHold, ""), ErrNotFound)
}

func TestMemoryStoreAttachMetadataFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(seedOrder("1", StatusOnHold))

	wrote, err := store.AttachMetadata(ctx, "1", PINMetaKey, "1111", "PIN 1111 attached.")
	require.NoError(t, err)
	require.True(t, wrote)

	wrote, err = store.AttachMetadata(ctx, "1", PINMetaKey, "2222", "PIN 2222 attached.")
	require.NoError(t, err)
	require.False(t, wrote)

	ord, err := store.Get(ctx, "1")
	require.NoError(t, err)
	pin, ok := ord.PIN()
	require.True(t, ok)
	require.Equal(t, "1111", pin)
	require.Len(t, ord.Notes, 1)
	require.Equal(t, "PIN 1111 attached.", ord.Notes[0].Text)

	_, err = store.AttachMetadata(ctx, "missing", PINMetaKey, "1", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTransitionIfMeta(t *testing.T) {
	ctx := context.Background()
	seeded := seedOrder("1", StatusOnHold)
	seeded.Meta = map[string]string{PINMetaKey: "1111"}
	store := NewMemoryStore(seeded)

	_, err := store.TransitionIfMeta(ctx, "1", PINMetaKey, "9999", StatusCompleted, "redeemed")
	require.ErrorIs(t, err, ErrGuardMismatch)
	ord, _ := store.Get(ctx, "1")
	require.Equal(t, StatusOnHold, ord.Status)

	applied, err := store.TransitionIfMeta(ctx, "1", PINMetaKey, "1111", StatusCompleted, "redeemed")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = store.TransitionIfMeta(ctx, "1", PINMetaKey, "1111", StatusCompleted, "redeemed")
	require.NoError(t, err)
	require.False(t, applied)

	ord, _ = store.Get(ctx, "1")
	require.Equal(t, StatusCompleted, ord.Status)
	require.Len(t, ord.Notes, 1)
}

func TestMemoryStoreConcurrentTransitionAppliesOnce(t *testing.T) {
	ctx := context.Background()
	seeded := seedOrder("1", StatusOnHold)
	seeded.Meta = map[string]string{PINMetaKey: "1111"}
	store := NewMemoryStore(seeded)

	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := store.TransitionIfMeta(ctx, "1", PINMetaKey, "1111", StatusCompleted, "redeemed")
			require.NoError(t, err)
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, appliedCount)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(seedOrder("1", StatusPending))

	ord, err := store.Get(ctx, "1")
	require.NoError(t, err)
	ord.Meta[PINMetaKey] = "leak"

	again, err := store.Get(ctx, "1")
	require.NoError(t, err)
	_, ok := again.PIN()
	require.False(t, ok)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(seedOrder("a", StatusPending), seedOrder("b", StatusPending), seedOrder("c", StatusPending))

	page, total, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, page, 2)

	page, _, err = store.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)

	page, _, err = store.List(ctx, 2, 10)
	require.NoError(t, err)
	require.Empty(t, page)
}
