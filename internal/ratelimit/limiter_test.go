package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stagepulse/stagepulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() (*Limiter, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return New(store.NewMemoryRateLimits(), clock), clock
}

func TestCheck_FirstActionAllowed(t *testing.T) {
	limiter, _ := newTestLimiter()

	result, err := limiter.Check(context.Background(), "chat:s1:user:u1", 3)
	require.NoError(t, err)
	assert.False(t, result.Limited)
	assert.Equal(t, 0, result.WaitSeconds)
}

func TestCheck_SecondActionWithinWindowLimited(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	_, err := limiter.Check(ctx, "chat:s1:user:u1", 3)
	require.NoError(t, err)

	clock.Advance(1 * time.Second)
	result, err := limiter.Check(ctx, "chat:s1:user:u1", 3)
	require.NoError(t, err)
	assert.True(t, result.Limited)
	assert.Equal(t, 2, result.WaitSeconds)
}

func TestCheck_WaitSecondsRoundsUp(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	_, err := limiter.Check(ctx, "react:s1:user:u1", 10)
	require.NoError(t, err)

	clock.Advance(5500 * time.Millisecond)
	result, err := limiter.Check(ctx, "react:s1:user:u1", 10)
	require.NoError(t, err)
	assert.True(t, result.Limited)
	assert.Equal(t, 5, result.WaitSeconds) // ceil(4.5)
}

func TestCheck_AllowedAfterWindowElapses(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	_, err := limiter.Check(ctx, "chat:s1:user:u1", 3)
	require.NoError(t, err)

	clock.Advance(3 * time.Second)
	result, err := limiter.Check(ctx, "chat:s1:user:u1", 3)
	require.NoError(t, err)
	assert.False(t, result.Limited)
}

func TestCheck_DeniedCheckDoesNotExtendCooldown(t *testing.T) {
	limiter, clock := newTestLimiter()
	ctx := context.Background()

	_, err := limiter.Check(ctx, "word:s1:user:u1", 10)
	require.NoError(t, err)

	// Hammering the gate while limited must not push the window out.
	for i := 0; i < 5; i++ {
		clock.Advance(1 * time.Second)
		result, err := limiter.Check(ctx, "word:s1:user:u1", 10)
		require.NoError(t, err)
		assert.True(t, result.Limited)
	}

	clock.Advance(5 * time.Second)
	result, err := limiter.Check(ctx, "word:s1:user:u1", 10)
	require.NoError(t, err)
	assert.False(t, result.Limited)
}

func TestCheck_SubjectsAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	_, err := limiter.Check(ctx, "chat:s1:user:u1", 3)
	require.NoError(t, err)

	result, err := limiter.Check(ctx, "chat:s1:user:u2", 3)
	require.NoError(t, err)
	assert.False(t, result.Limited)
}

func TestCheck_ZeroWindowNeverLimits(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "chat:s1:user:u1", 0)
		require.NoError(t, err)
		assert.False(t, result.Limited)
	}
}

func TestSubjectKeys(t *testing.T) {
	scope := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	user := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	authed := SubjectKey("word", scope, user)
	anon := AnonSubjectKey("word", scope, "203.0.113.9")

	assert.Contains(t, authed, "user:22222222")
	assert.Contains(t, anon, "ip:203.0.113.9")
	assert.NotEqual(t, authed, anon)
}
