package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/steveyegge/polyrev/internal/storage/memory"
	"github.com/steveyegge/polyrev/internal/storage/postgres"
	"github.com/steveyegge/polyrev/internal/storage/redis"
	"github.com/steveyegge/polyrev/internal/storage/sqlite"
	"github.com/steveyegge/polyrev/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every backend available in this environment.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	ctx := context.Background()
	out := map[string]Backend{"memory": memory.New()}

	sq, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	out["sqlite"] = sq

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	out["redis"] = redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), time.Hour)

	if url := os.Getenv("POLYREV_TEST_POSTGRES_URL"); url != "" {
		pg, err := postgres.New(ctx, url)
		require.NoError(t, err)
		_, err = pg.Delete(ctx, "", "")
		require.NoError(t, err)
		out["postgres"] = pg
	}

	for _, b := range out {
		t.Cleanup(func() { b.Close() })
	}
	return out
}

func TestBackendConformance(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := b.Get(ctx, "security", DateKey(day1))
			require.NoError(t, err)
			assert.Nil(t, rec)

			require.NoError(t, b.Put(ctx, recordAt("security", day1, 3)))
			require.NoError(t, b.Put(ctx, recordAt("perf:go", day1, 0)))
			require.NoError(t, b.Put(ctx, recordAt("security", day2, 1)))

			rec, err = b.Get(ctx, "security", "2026-03-01")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, 3, rec.FindingsCount)
			assert.True(t, rec.CompletedAt.Equal(day1), "completed_at round trip: %v", rec.CompletedAt)

			// Overwrite on re-run
			later := day1.Add(2 * time.Hour)
			require.NoError(t, b.Put(ctx, recordAt("security", later, 5)))
			rec, err = b.Get(ctx, "security", "2026-03-01")
			require.NoError(t, err)
			assert.Equal(t, 5, rec.FindingsCount)
			assert.True(t, rec.CompletedAt.Equal(later))

			recs, err := b.List(ctx, "2026-03-01")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "perf:go", recs[0].JobID)
			assert.Equal(t, "security", recs[1].JobID)

			all, err := b.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)
			assert.Equal(t, "2026-03-02", all[2].Date)

			n, err := b.Delete(ctx, "security", "")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = b.Delete(ctx, "", "2026-03-01")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			all, err = b.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func recordAt(jobID string, at time.Time, findings int) types.IdempotencyRecord {
	return types.IdempotencyRecord{JobID: jobID, Date: DateKey(at), CompletedAt: at, FindingsCount: findings}
}

func TestStore_HasRunTodayUsesClock(t *testing.T) {
	ctx := context.Background()
	clock := &mutableClock{t: time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)}
	s := New(memory.New(), clock)

	ran, err := s.HasRunToday(ctx, "security")
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, s.MarkRun(ctx, "security", 2))
	ran, err = s.HasRunToday(ctx, "security")
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = s.HasRunToday(ctx, "perf")
	require.NoError(t, err)
	assert.False(t, ran, "records are per job")

	clock.set(clock.Now().Add(2 * time.Minute))
	ran, err = s.HasRunToday(ctx, "security")
	require.NoError(t, err)
	assert.False(t, ran, "a new day clears the gate")
	assert.Equal(t, "2026-03-02", s.Today())
}

func TestStore_DateFollowsClockLocation(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	// 03:00 UTC on the 2nd is still the 1st in UTC-8
	s := New(memory.New(), FixedClock{T: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC).In(loc)})
	assert.Equal(t, "2026-03-01", s.Today())
}

func TestStore_ResetAndList(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(), FixedClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})

	require.NoError(t, s.MarkRun(ctx, "a", 0))
	require.NoError(t, s.MarkRun(ctx, "b", 1))
	assert.Error(t, s.MarkRun(ctx, "", 0))

	recs, err := s.List(ctx, s.Today())
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	n, err := s.Reset(ctx, "a", s.Today())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ran, err := s.HasRunToday(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ran)
	require.NoError(t, s.Close())
}

func TestStore_ConcurrentMarks(t *testing.T) {
	ctx := context.Background()
	s := New(memory.New(), FixedClock{T: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.MarkRun(ctx, fmt.Sprintf("job-%d", i%10), i))
		}(i)
	}
	wg.Wait()

	recs, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, recs, 10, "one record per (job, date)")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &Config{Backend: BackendMemory}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, &Config{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, &Config{Backend: BackendRedis}, nil)
	assert.Error(t, err)
	_, err = Open(ctx, &Config{Backend: BackendPostgres}, nil)
	assert.Error(t, err)
	_, err = Open(ctx, &Config{Backend: "etcd"}, nil)
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	s, err = Open(ctx, &Config{Backend: BackendRedis, RedisURL: "redis://" + mr.Addr() + "/0"}, nil)
	require.NoError(t, err)
	require.NoError(t, s.MarkRun(ctx, "a", 1))
	assert.True(t, mr.Exists("polyrev:run:"+s.Today()+":a"))
	assert.Greater(t, mr.TTL("polyrev:run:"+s.Today()+":a"), time.Duration(0))
	require.NoError(t, s.Close())
}

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
