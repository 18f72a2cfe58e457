package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// In-memory stand-in for the narrow redis Client interface.
type fakeRedis struct {
	hashes map[string]map[string]string
	sets   map[string]map[string]bool
	hgets  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: map[string]map[string]string{},
		sets:   map[string]map[string]bool{},
	}
}

func (f *fakeRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	f.hgets++
	if value, ok := f.hashes[key][field]; ok {
		return redis.NewStringResult(value, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = string(values[i+1].([]byte))
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	s, ok := f.sets[key]
	if !ok {
		s = map[string]bool{}
		f.sets[key] = s
	}
	for _, m := range members {
		s[m.(string)] = true
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	for _, m := range members {
		delete(f.sets[key], m.(string))
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd {
	return redis.NewBoolResult(f.sets[key][member.(string)], nil)
}

func (f *fakeRedis) SCard(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(f.sets[key])), nil)
}

func (f *fakeRedis) FlushDB(ctx context.Context) *redis.StatusCmd {
	f.hashes = map[string]map[string]string{}
	f.sets = map[string]map[string]bool{}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Save(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func TestRedisHashAndSetOps(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedisWithClient(fake, Config{})

	_, ok := r.Get(ctx, "route", "49")
	assert.False(t, ok)

	r.Set(ctx, "route", "49", []byte("x"))
	value, ok := r.Get(ctx, "route", "49")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), value)

	r.Delete(ctx, "route", "49")
	_, ok = r.Get(ctx, "route", "49")
	assert.False(t, ok)

	r.Add(ctx, "stop_numbers", "1358")
	r.Add(ctx, "stop_numbers", "1358")
	r.Add(ctx, "stop_numbers", "1359")
	assert.True(t, r.Has(ctx, "stop_numbers", "1358"))
	assert.False(t, r.Has(ctx, "stop_numbers", "9999"))
	assert.Equal(t, int64(2), r.Cardinality(ctx, "stop_numbers"))

	r.Remove(ctx, "stop_numbers", "1359")
	assert.Equal(t, int64(1), r.Cardinality(ctx, "stop_numbers"))
}

func TestRedisHotCacheFreshness(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedisWithClient(fake, Config{
		"route": {Cache: true, Expiry: time.Hour},
	})

	now := time.Unix(1694767800, 0)
	r.now = func() time.Time { return now }

	r.Set(ctx, "route", "49", []byte("x"))
	fake.hgets = 0

	// First read goes to redis, second is served hot.
	value, ok := r.Get(ctx, "route", "49")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), value)
	assert.Equal(t, 1, fake.hgets)

	_, _ = r.Get(ctx, "route", "49")
	assert.Equal(t, 1, fake.hgets)

	// Still fresh just before the expiry boundary.
	now = now.Add(time.Hour - time.Second)
	_, _ = r.Get(ctx, "route", "49")
	assert.Equal(t, 1, fake.hgets)

	// At the boundary the entry must be refetched.
	now = now.Add(time.Second)
	value, ok = r.Get(ctx, "route", "49")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), value)
	assert.Equal(t, 2, fake.hgets)
}

func TestRedisHotCacheNoExpiry(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedisWithClient(fake, Config{
		"route": {Cache: true},
	})

	now := time.Unix(1694767800, 0)
	r.now = func() time.Time { return now }

	r.Set(ctx, "route", "49", []byte("x"))
	fake.hgets = 0

	_, _ = r.Get(ctx, "route", "49")
	now = now.Add(1000 * time.Hour)
	_, _ = r.Get(ctx, "route", "49")
	assert.Equal(t, 1, fake.hgets)
}

func TestRedisUncachedNamespaceAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedisWithClient(fake, Config{})

	r.Set(ctx, "live_delays", "t1", []byte("x"))
	fake.hgets = 0

	_, _ = r.Get(ctx, "live_delays", "t1")
	_, _ = r.Get(ctx, "live_delays", "t1")
	assert.Equal(t, 2, fake.hgets)
}

func TestRedisSetInvalidatesHotEntry(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedisWithClient(fake, Config{
		"route": {Cache: true, Expiry: time.Hour},
	})

	r.Set(ctx, "route", "49", []byte("old"))
	_, _ = r.Get(ctx, "route", "49")

	r.Set(ctx, "route", "49", []byte("new"))
	value, ok := r.Get(ctx, "route", "49")
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), value)
}

func TestRedisClear(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedisWithClient(fake, Config{
		"route": {Cache: true},
	})

	r.Set(ctx, "route", "49", []byte("x"))
	r.Add(ctx, "stop_numbers", "1358")
	_, _ = r.Get(ctx, "route", "49")

	assert.NoError(t, r.Clear(ctx))

	_, ok := r.Get(ctx, "route", "49")
	assert.False(t, ok)
	assert.False(t, r.Has(ctx, "stop_numbers", "1358"))
}
