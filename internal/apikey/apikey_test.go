package apikey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragcore/internal/domain"
	"ragcore/internal/storage/relmemory"
)

func TestCreateAndVerifyRoundTripsWithCorrectToken(t *testing.T) {
	store := relmemory.New()
	issuer := New(store)
	ctx := context.Background()

	issued, err := issuer.Create(ctx, "tenant-a", "ci-pipeline", []domain.ApiKeyScope{domain.ScopeIngest}, 100)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	key, err := issuer.Verify(ctx, issued.Key.ID, issued.Token, domain.ScopeIngest)
	require.NoError(t, err)
	require.Equal(t, "tenant-a", key.TenantID)
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	store := relmemory.New()
	issuer := New(store)
	ctx := context.Background()

	issued, err := issuer.Create(ctx, "tenant-a", "ci-pipeline", []domain.ApiKeyScope{domain.ScopeIngest}, 100)
	require.NoError(t, err)

	_, err = issuer.Verify(ctx, issued.Key.ID, "rck_wrong-token", domain.ScopeIngest)
	require.Error(t, err)
}

func TestVerifyRejectsMissingScope(t *testing.T) {
	store := relmemory.New()
	issuer := New(store)
	ctx := context.Background()

	issued, err := issuer.Create(ctx, "tenant-a", "read-only", []domain.ApiKeyScope{domain.ScopeRetrieve}, 100)
	require.NoError(t, err)

	_, err = issuer.Verify(ctx, issued.Key.ID, issued.Token, domain.ScopeAdmin)
	require.Error(t, err)
}

func TestVerifyAllowsAdminScopeForAnyRequirement(t *testing.T) {
	store := relmemory.New()
	issuer := New(store)
	ctx := context.Background()

	issued, err := issuer.Create(ctx, "tenant-a", "superuser", []domain.ApiKeyScope{domain.ScopeAdmin}, 100)
	require.NoError(t, err)

	_, err = issuer.Verify(ctx, issued.Key.ID, issued.Token, domain.ScopeChat)
	require.NoError(t, err)
}

func TestRevokeRejectsSubsequentVerify(t *testing.T) {
	store := relmemory.New()
	issuer := New(store)
	ctx := context.Background()

	issued, err := issuer.Create(ctx, "tenant-a", "disposable", []domain.ApiKeyScope{domain.ScopeIngest}, 100)
	require.NoError(t, err)
	require.NoError(t, issuer.Revoke(ctx, issued.Key.ID))

	_, err = issuer.Verify(ctx, issued.Key.ID, issued.Token, domain.ScopeIngest)
	require.Error(t, err)
}

// fakeCache is a minimal in-process storage.Cache for exercising the rate
// limiter without a real Redis connection.
type fakeCache struct {
	counters map[string]int64
}

func newFakeCache() *fakeCache { return &fakeCache{counters: make(map[string]int64)} }

func (f *fakeCache) Get(ctx context.Context, key string) (string, bool, error) { return "", false, nil }
func (f *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error { return nil }
func (f *fakeCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	f.counters[key]++
	return f.counters[key], nil
}
func (f *fakeCache) Delete(ctx context.Context, key string) error { delete(f.counters, key); return nil }
func (f *fakeCache) SlidingWindowHit(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	f.counters[key]++
	return f.counters[key], now, nil
}
func (f *fakeCache) AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeCache) ReleaseLock(ctx context.Context, key, holder string) error { return nil }
func (f *fakeCache) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (f *fakeCache) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte)
	return ch, func() {}, nil
}
func (f *fakeCache) Close() error { return nil }

func TestRateLimiterAllowsUpToLimitThenRejects(t *testing.T) {
	cache := newFakeCache()
	limiter := NewRateLimiter(cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, "key-1", 3)
		require.NoError(t, err)
	}
	_, err := limiter.Allow(ctx, "key-1", 3)
	require.Error(t, err)
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	cache := newFakeCache()
	limiter := NewRateLimiter(cache, time.Minute)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "key-1", 1)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "key-2", 1)
	require.NoError(t, err)
}

func TestRateLimiterSkipsEnforcementWhenLimitIsZero(t *testing.T) {
	cache := newFakeCache()
	limiter := NewRateLimiter(cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := limiter.Allow(ctx, "unlimited-key", 0)
		require.NoError(t, err)
	}
}
