package freecache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type board struct {
	Titles []string
}

func newTestCache(t *testing.T) *FreeCache {
	t.Helper()
	os.Setenv("FREECACHE_TTL", "5")
	os.Setenv("FREECACHE_SIZE", "1048576")

	c, err := NewFreeCache()
	require.NoError(t, err)
	return c.(*FreeCache)
}

func TestFreeCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	tests := []struct {
		name      string
		key       string
		value     interface{}
		expectErr bool
	}{
		{"Empty key should fail", "", "value", true},
		{"Nil value should fail", "nil_value", nil, true},
		{"String value should succeed", "title", "Clear the ruins", false},
		{"Struct value should succeed", "board", board{Titles: []string{"a", "b"}}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := c.Put(ctx, tt.key, tt.value, c.GetDefaultTTL())
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	var s string
	require.NoError(t, c.Get(ctx, "title", &s))
	require.Equal(t, "Clear the ruins", s)

	var b board
	require.NoError(t, c.Get(ctx, "board", &b))
	require.Equal(t, board{Titles: []string{"a", "b"}}, b)

	var missing string
	require.Error(t, c.Get(ctx, "missing", &missing))
}

func TestFreeCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, "short", "temp", 1))
	require.NoError(t, c.Put(ctx, "long", "persistent", 5))

	time.Sleep(2 * time.Second)

	var out string
	require.Error(t, c.Get(ctx, "short", &out))
	require.NoError(t, c.Get(ctx, "long", &out))
	require.Equal(t, "persistent", out)
}

func TestFreeCache_ShutDown(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, "key1", "value1", c.GetDefaultTTL()))
	c.ShutDown(ctx)

	var out string
	require.Error(t, c.Get(ctx, "key1", &out))
}

func TestNewFreeCache_MissingConfig(t *testing.T) {
	os.Unsetenv("FREECACHE_TTL")
	os.Unsetenv("FREECACHE_SIZE")

	c, err := NewFreeCache()
	require.Error(t, err)
	require.Nil(t, c)
}
