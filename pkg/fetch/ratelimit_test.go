package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPool_EnforcesPerDomainRate(t *testing.T) {
	pool := NewLimiterPool(10) // 10 req/s -> 100ms between requests

	ctx := context.Background()
	start := time.Now()
	require.NoError(t, pool.Wait(ctx, "a.example.com"))
	require.NoError(t, pool.Wait(ctx, "a.example.com"))
	require.NoError(t, pool.Wait(ctx, "a.example.com"))
	elapsed := time.Since(start)

	// first token is free, two more need ~100ms each
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestLimiterPool_DomainsAreIndependent(t *testing.T) {
	pool := NewLimiterPool(1) // 1 req/s

	ctx := context.Background()
	require.NoError(t, pool.Wait(ctx, "a.example.com"))

	// a different domain gets its first token immediately
	start := time.Now()
	require.NoError(t, pool.Wait(ctx, "b.example.com"))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestLimiterPool_WaitHonorsContext(t *testing.T) {
	pool := NewLimiterPool(0.1) // one request per 10s

	ctx := context.Background()
	require.NoError(t, pool.Wait(ctx, "a.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.Wait(ctx, "a.example.com")
	assert.Error(t, err)
}
