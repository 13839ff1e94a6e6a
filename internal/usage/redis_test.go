package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisStore_FreshKey(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	rec, err := NewRedisStore(rdb, "fresh").Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.TrialCount != 0 || rec.LastUsed != nil {
		t.Errorf("Load() = %+v, want zero record", rec)
	}
	if !NewGate(NewRedisStore(rdb, "fresh")).CanGenerate(ctx, false) {
		t.Error("CanGenerate() = false for a fresh client")
	}
}

func TestRedisStore_MarkUsed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g := NewGate(NewRedisStore(rdb, "a"), WithClock(func() time.Time { return now }))
	g.MarkUsed(ctx)

	rec := g.Record(ctx)
	if rec.TrialCount != 1 {
		t.Errorf("TrialCount = %d, want 1", rec.TrialCount)
	}
	if rec.LastUsed == nil || !rec.LastUsed.Equal(now) {
		t.Errorf("LastUsed = %v, want %v", rec.LastUsed, now)
	}
	if g.CanGenerate(ctx, false) {
		t.Error("CanGenerate() = true after the free trial")
	}
	if !mr.Exists(RedisKey("a")) {
		t.Errorf("key %s not written", RedisKey("a"))
	}
}

func TestRedisStore_ConcurrentMarkUsed(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewGate(NewRedisStore(rdb, "shared")).MarkUsed(ctx)
		}()
	}
	wg.Wait()

	rec, err := NewRedisStore(rdb, "shared").Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.TrialCount != writers {
		t.Errorf("TrialCount = %d, want %d", rec.TrialCount, writers)
	}
}

func TestRedisStore_CorruptValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	if err := mr.Set(RedisKey("c"), "not json"); err != nil {
		t.Fatal(err)
	}

	store := NewRedisStore(rdb, "c")
	if _, err := store.Load(ctx); err == nil {
		t.Error("Load() on a corrupt value should fail")
	}

	g := NewGate(store)
	if !g.CanGenerate(ctx, false) {
		t.Error("corrupt record should count as zero uses")
	}
	g.MarkUsed(ctx)

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after MarkUsed() error = %v", err)
	}
	if rec.TrialCount != 1 {
		t.Errorf("TrialCount = %d, want 1 after overwriting the corrupt value", rec.TrialCount)
	}
}

func TestRedisRegistry_IsolatesClients(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	reg := NewRedisRegistry(rdb)

	NewGate(reg.For("a")).MarkUsed(ctx)

	if NewGate(reg.For("a")).CanGenerate(ctx, false) {
		t.Error("client a should have used its trial")
	}
	if !NewGate(reg.For("b")).CanGenerate(ctx, false) {
		t.Error("client b should be unaffected by client a")
	}
}
