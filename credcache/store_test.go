package credcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_AdaptsCacheToTokenStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewFileCache(cachePath(t)))

	_, ok, err := s.Load(ctx, "svc-a")
	require.NoError(t, err)
	require.False(t, ok)

	tok := expiringToken("abc", time.Hour)
	require.NoError(t, s.Save(ctx, "svc-a", tok))

	got, ok, err := s.Load(ctx, "svc-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(tok))

	require.NoError(t, s.Drop(ctx, "svc-a", got))
	_, ok, err = s.Load(ctx, "svc-a")
	require.NoError(t, err)
	require.False(t, ok)
}
