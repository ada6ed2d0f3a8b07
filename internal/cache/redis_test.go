package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCacheKeys(t *testing.T) {
	id := uuid.MustParse("7f2c68c8-7a4a-4a63-9c25-3a1f4b1f2a10")

	require.Equal(t, "customer:7f2c68c8-7a4a-4a63-9c25-3a1f4b1f2a10", GetCustomerCacheKey(id))
	require.Equal(t, "event:seen:7f2c68c8-7a4a-4a63-9c25-3a1f4b1f2a10", GetSeenEventCacheKey(id))
	require.Equal(t, "event:deliveries:7f2c68c8-7a4a-4a63-9c25-3a1f4b1f2a10", GetDeliveryCountCacheKey(id))
}

func TestDisabledCacheDegradesGracefully(t *testing.T) {
	cache := Disabled()
	ctx := context.Background()
	eventID := uuid.New()

	// Every event looks unseen, so consumption stays at-least-once.
	seen, err := cache.WasEventSeen(ctx, eventID)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = cache.MarkEventSeen(ctx, eventID)
	require.NoError(t, err)
	require.False(t, seen)

	// Delivery counting reports 1, which keeps messages under any cap.
	count, err := cache.IncrementDeliveryCount(ctx, eventID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	require.Error(t, cache.Get(ctx, "some-key", &struct{}{}))
	require.Error(t, cache.Set(ctx, "some-key", "value", time.Minute))
	require.NoError(t, cache.Close())
}
