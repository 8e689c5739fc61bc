package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-tracker-go/internal/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, "", nil), mr
}

func event(jobID int, status models.ApplicationStatus, at time.Time) models.StatusUpdateEvent {
	return models.StatusUpdateEvent{JobID: jobID, NewStatus: status, EmittedAt: at, Origin: "test"}
}

// exercise runs the same scenario against every implementation.
func exercise(t *testing.T, store PendingStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Publish(ctx, event(42, models.StatusApplied, now)))
	require.NoError(t, store.Publish(ctx, event(43, models.StatusRejected, now)))
	// newer event for the same job wins
	require.NoError(t, store.Publish(ctx, event(43, models.StatusInterview, now.Add(time.Second))))
	// older event is dropped
	require.NoError(t, store.Publish(ctx, event(42, models.StatusOpen, now.Add(-time.Minute))))

	got, err := store.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.StatusApplied, got[42].NewStatus)
	assert.Equal(t, models.StatusInterview, got[43].NewStatus)

	again, err := store.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemoryStoreSemantics(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestRedisStoreSemantics(t *testing.T) {
	store, _ := newRedisStore(t)
	exercise(t, store)
}

func TestRedisStoreSharedBetweenSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	a := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "shared", nil)
	b := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "shared", nil)
	ctx := context.Background()

	require.NoError(t, a.Publish(ctx, event(42, models.StatusApplied, time.Now())))

	got, err := b.Drain(ctx)
	require.NoError(t, err)
	require.Contains(t, got, 42)
	assert.Equal(t, models.StatusApplied, got[42].NewStatus)
	assert.False(t, mr.Exists("shared"))
}

func TestRedisStoreSkipsMalformedEntries(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, event(7, models.StatusApplied, time.Now())))
	mr.HSet(DefaultKey, "8", "{not json")
	mr.HSet(DefaultKey, "9", `{"job_id":9,"new_status":"Hired"}`)

	got, err := store.Drain(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, 7)
	assert.False(t, mr.Exists(DefaultKey))
}

func TestConcurrentDrainsHandOutEachEntryOnce(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for id := 1; id <= 20; id++ {
		require.NoError(t, store.Publish(ctx, event(id, models.StatusApplied, now)))
	}

	var (
		mu    sync.Mutex
		total int
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.Drain(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += len(got)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, total)
}
