package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseProvider(t *testing.T, p Provider) {
	t.Helper()
	ctx := context.Background()

	_, err := p.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, p.Set(ctx, "k", []byte("v1"), time.Minute))
	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, p.Set(ctx, "k", []byte("v2"), time.Minute))
	got, err = p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, p.Del(ctx, "k"))
	_, err = p.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, p.Del(ctx, "k"))

	require.NoError(t, p.Set(ctx, "k", []byte("v3"), time.Minute))
}

func TestLocalProvider(t *testing.T) {
	p := NewLocalProvider(8, time.Minute)
	defer p.Close()
	exerciseProvider(t, p)
}

func TestLocalProviderReturnsCopies(t *testing.T) {
	p := NewLocalProvider(8, time.Minute)
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, p.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, err := p.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestLocalProviderEntryExpires(t *testing.T) {
	p := NewLocalProvider(8, time.Minute)
	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := p.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisProvider(client, "test:")
	exerciseProvider(t, p)
	assert.True(t, mr.Exists("test:k"))
}

func TestNoopProviderNeverStores(t *testing.T) {
	ctx := context.Background()
	p := NoopProvider{}
	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := p.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)
}
