package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	key := "occupied:d1:2026-10-24"

	_, gen, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := m.SetIfGeneration(ctx, key, gen, []string{"10:00", "10:30"})
	require.NoError(t, err)
	assert.True(t, stored)
	vals, _, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"10:00", "10:30"}, vals)

	require.NoError(t, m.Invalidate(ctx, key))
	_, next, ok, _ := m.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, gen+1, next)
}

func TestMemory_StaleGenerationIsDropped(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, gen, _, _ := m.Get(ctx, "k")
	require.NoError(t, m.Invalidate(ctx, "k"))

	stored, err := m.SetIfGeneration(ctx, "k", gen, []string{"10:00"})
	require.NoError(t, err)
	assert.False(t, stored)
	_, _, ok, _ := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_EmptyListIsAHit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, err := m.SetIfGeneration(ctx, "k", 0, nil)
	require.NoError(t, err)
	vals, _, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, vals)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	m := NewMemory(30 * time.Second)
	m.now = func() time.Time { return now }

	_, err := m.SetIfGeneration(ctx, "k", 0, []string{"09:30"})
	require.NoError(t, err)
	now = now.Add(29 * time.Second)
	_, _, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, _, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	in := []string{"10:00"}
	_, err := m.SetIfGeneration(ctx, "k", 0, in)
	require.NoError(t, err)
	in[0] = "changed"

	vals, _, _, _ := m.Get(ctx, "k")
	vals[0] = "mutated"
	again, _, _, _ := m.Get(ctx, "k")
	assert.Equal(t, []string{"10:00"}, again)
}

// TestRedis runs against a live server named by REDIS_URL.
func TestRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, url, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	_, gen, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := r.SetIfGeneration(ctx, key, gen, []string{"11:00"})
	require.NoError(t, err)
	assert.True(t, stored)
	vals, _, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"11:00"}, vals)

	require.NoError(t, r.Invalidate(ctx, key))
	_, next, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, gen+1, next)

	stored, err = r.SetIfGeneration(ctx, key, gen, []string{"11:00"})
	require.NoError(t, err)
	assert.False(t, stored, "fill with a pre-invalidation generation must not land")
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url://", time.Minute)
	assert.Error(t, err)
}
