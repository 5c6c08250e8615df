package redis

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"charasync/internal/domain"
)

type memCatalog struct {
	mu    sync.Mutex
	items map[domain.ContentHash]domain.SwarmDescriptor
	gets  int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{items: make(map[domain.ContentHash]domain.SwarmDescriptor)}
}

func (m *memCatalog) Get(_ context.Context, hash domain.ContentHash) (domain.SwarmDescriptor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	d, ok := m.items[hash]
	return d, ok, nil
}

func (m *memCatalog) Put(_ context.Context, d domain.SwarmDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[d.Hash]; !ok {
		m.items[d.Hash] = d
	}
	return nil
}

// unreachableClient points at a port nothing listens on.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func testDescriptor(seed string) domain.SwarmDescriptor {
	return domain.SwarmDescriptor{
		Hash:      domain.HashBytes([]byte(seed)),
		Extension: ".tex",
		InfoHash:  "abc",
		Data:      []byte("d4:infodee"),
	}
}

// ---------------------------------------------------------------------------
// Degraded cache
// ---------------------------------------------------------------------------

func TestGetFallsBackWhenRedisDown(t *testing.T) {
	backing := newMemCatalog()
	desc := testDescriptor("a")
	backing.items[desc.Hash] = desc

	c := NewCachedCatalog(unreachableClient(), backing, time.Minute, nil)
	got, ok, err := c.Get(context.Background(), desc.Hash)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.InfoHash != desc.InfoHash {
		t.Fatalf("InfoHash = %q", got.InfoHash)
	}
	if backing.gets != 1 {
		t.Fatalf("backing gets = %d, want 1", backing.gets)
	}
}

func TestPutWritesThroughWhenRedisDown(t *testing.T) {
	backing := newMemCatalog()
	c := NewCachedCatalog(unreachableClient(), backing, 0, nil)

	desc := testDescriptor("b")
	if err := c.Put(context.Background(), desc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := backing.items[desc.Hash]; !ok {
		t.Fatal("descriptor not written to backing catalog")
	}
	if c.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want default", c.ttl)
	}
}

func TestCacheOnlyPutFailsWhenRedisDown(t *testing.T) {
	c := NewCachedCatalog(unreachableClient(), nil, time.Minute, nil)
	if err := c.Put(context.Background(), testDescriptor("c")); err == nil {
		t.Fatal("expected error without backing catalog")
	}
	if _, ok, err := c.Get(context.Background(), testDescriptor("c").Hash); ok || err != nil {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
}

type pingCatalog struct {
	*memCatalog
	err error
}

func (p pingCatalog) Ping(context.Context) error { return p.err }

func TestPingReportsRedisDown(t *testing.T) {
	c := NewCachedCatalog(unreachableClient(), newMemCatalog(), time.Minute, nil)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error with redis down")
	}
}

func TestPingReportsRedisBeforeBacking(t *testing.T) {
	backing := pingCatalog{memCatalog: newMemCatalog(), err: errors.New("mongo down")}
	c := NewCachedCatalog(unreachableClient(), backing, time.Minute, nil)
	if err := c.Ping(context.Background()); err == nil || errors.Is(err, backing.err) {
		t.Fatalf("redis failure must be reported first, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Live Redis
// ---------------------------------------------------------------------------

func TestIntegration_ReadThrough(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	backing := newMemCatalog()
	desc := testDescriptor(time.Now().String())
	backing.items[desc.Hash] = desc

	c := NewCachedCatalog(client, backing, time.Minute, nil)
	t.Cleanup(func() { c.invalidate(context.Background(), desc.Hash) })

	for i := 0; i < 3; i++ {
		if _, ok, err := c.Get(ctx, desc.Hash); err != nil || !ok {
			t.Fatalf("Get #%d: ok=%v err=%v", i, ok, err)
		}
	}
	if backing.gets != 1 {
		t.Fatalf("backing gets = %d, want 1", backing.gets)
	}
}

func TestIntegration_CorruptEntryIsReplaced(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	backing := newMemCatalog()
	desc := testDescriptor("corrupt " + time.Now().String())
	backing.items[desc.Hash] = desc
	c := NewCachedCatalog(client, backing, time.Minute, nil)
	t.Cleanup(func() { c.invalidate(context.Background(), desc.Hash) })

	if err := client.Set(ctx, redisCachePrefix+desc.Hash.String(), "{not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	got, ok, err := c.Get(ctx, desc.Hash)
	if err != nil || !ok || got.InfoHash != desc.InfoHash {
		t.Fatalf("Get: ok=%v err=%v desc=%+v", ok, err, got)
	}
	if _, ok, err := c.getCached(ctx, desc.Hash); err != nil || !ok {
		t.Fatalf("cache not refilled: ok=%v err=%v", ok, err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	backingDown := pingCatalog{memCatalog: newMemCatalog(), err: errors.New("mongo down")}
	if err := NewCachedCatalog(client, backingDown, time.Minute, nil).Ping(ctx); !errors.Is(err, backingDown.err) {
		t.Fatalf("Ping = %v, want backing error", err)
	}
}
