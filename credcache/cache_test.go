package credcache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/rpcflow/token"
)

func cachePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "credentials.json")
}

// Tokens go through POSIX-second timestamps on disk, so expiries in tests
// carry second precision.
func expiringToken(secret string, in time.Duration) token.Token {
	return token.NewWithExpiry(secret, time.Unix(time.Now().Add(in).Unix(), 0))
}

func TestFileCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewFileCache(cachePath(t))

	_, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.False(t, ok)

	want := expiringToken("abc", time.Hour)
	require.NoError(t, c.Set(ctx, "svc-a", want))

	got, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(want))
}

func TestFileCache_DocumentFormat(t *testing.T) {
	ctx := context.Background()
	path := cachePath(t)
	c := NewFileCache(path)

	exp := time.Now().Add(time.Hour).Unix()
	require.NoError(t, c.Set(ctx, "svc-a", token.NewWithExpiry("abc", time.Unix(exp, 0))))
	require.NoError(t, c.Set(ctx, "svc-b", token.New("forever")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]struct {
		Secret    string `json:"secret"`
		ExpiresAt *int64 `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc, 2)
	require.Equal(t, "abc", doc["svc-a"].Secret)
	require.NotNil(t, doc["svc-a"].ExpiresAt)
	require.Equal(t, exp, *doc["svc-a"].ExpiresAt)
	require.Nil(t, doc["svc-b"].ExpiresAt)
}

func TestFileCache_ExpiredTokensPrunedOnWrite(t *testing.T) {
	ctx := context.Background()
	path := cachePath(t)
	c := NewFileCache(path)

	require.NoError(t, c.Set(ctx, "stale", expiringToken("old", time.Second)))
	require.NoError(t, c.Set(ctx, "fresh", expiringToken("new", time.Hour)))

	// Writing after "stale" has expired removes it from the document.
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "fresh", expiringToken("newer", time.Hour)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotContains(t, doc, "stale")
	require.Contains(t, doc, "fresh")
}

func TestFileCache_ExpiredTokenReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	c := NewFileCache(cachePath(t))

	require.NoError(t, c.Set(ctx, "svc-a", expiringToken("abc", time.Second)))
	time.Sleep(1100 * time.Millisecond)

	_, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileCache_CorruptFileTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	path := cachePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	c := NewFileCache(path)
	_, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.False(t, ok)

	// Writes recover the file.
	want := expiringToken("abc", time.Hour)
	require.NoError(t, c.Set(ctx, "svc-a", want))
	got, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(want))
}

func TestFileCache_RemoveIfEqual(t *testing.T) {
	ctx := context.Background()
	c := NewFileCache(cachePath(t))

	stored := expiringToken("abc", time.Hour)
	require.NoError(t, c.Set(ctx, "svc-a", stored))

	// A different token does not remove the stored one.
	require.NoError(t, c.RemoveIfEqual(ctx, "svc-a", expiringToken("other", time.Hour)))
	_, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.RemoveIfEqual(ctx, "svc-a", stored))
	_, ok, err = c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileCache_Remove(t *testing.T) {
	ctx := context.Background()
	c := NewFileCache(cachePath(t))

	require.NoError(t, c.Set(ctx, "svc-a", expiringToken("abc", time.Hour)))
	require.NoError(t, c.Remove(ctx, "svc-a"))

	_, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileCache_LockContention(t *testing.T) {
	ctx := context.Background()
	path := cachePath(t)

	// Another process holds the lock and never releases it.
	require.NoError(t, os.WriteFile(path+".lock", nil, 0o600))

	c := NewFileCache(path, WithLockTimeout(200*time.Millisecond))
	err := c.Set(ctx, "svc-a", expiringToken("abc", time.Hour))
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestFileCache_LockReleasedAfterMutation(t *testing.T) {
	ctx := context.Background()
	path := cachePath(t)
	c := NewFileCache(path)

	require.NoError(t, c.Set(ctx, "svc-a", expiringToken("abc", time.Hour)))
	_, err := os.Stat(path + ".lock")
	require.True(t, os.IsNotExist(err))

	// Sequential mutations keep working.
	require.NoError(t, c.Set(ctx, "svc-b", expiringToken("def", time.Hour)))
}

func TestFileCache_CreatesParentDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "credentials.json")
	c := NewFileCache(path)

	require.NoError(t, c.Set(ctx, "svc-a", expiringToken("abc", time.Hour)))
	_, ok, err := c.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.True(t, ok)
}
