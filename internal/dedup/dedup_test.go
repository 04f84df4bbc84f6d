package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemoryGuard(time.Minute)
	g.now = func() time.Time { return now }

	ok, err := g.Claim(ctx, "bucket/a_before.jpg#1.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Claim(ctx, "bucket/a_before.jpg#1.1")
	assert.False(t, ok, "duplicate delivery must not be claimed twice")

	ok, _ = g.Claim(ctx, "bucket/a_before.jpg#2.1")
	assert.True(t, ok, "a new generation is a new upload")

	require.NoError(t, g.Release(ctx, "bucket/a_before.jpg#1.1"))
	ok, _ = g.Claim(ctx, "bucket/a_before.jpg#1.1")
	assert.True(t, ok, "released keys can be claimed again")

	now = now.Add(2 * time.Minute)
	ok, _ = g.Claim(ctx, "bucket/a_before.jpg#2.1")
	assert.True(t, ok, "claims expire after the ttl")
}
