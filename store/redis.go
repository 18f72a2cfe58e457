package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Client is the subset of the go-redis API the store needs. Narrow so
// tests can substitute a fake.
type Client interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	FlushDB(ctx context.Context) *redis.StatusCmd
	Save(ctx context.Context) *redis.StatusCmd
}

// Redis is the external backend: a hash per namespace plus a set per
// namespace. Namespaces configured with Cache keep values they have
// read in an in-process hot cache, aged out per the namespace Expiry.
//
// Redis errors are logged and treated as misses; this store never
// takes the process down.
type Redis struct {
	client Client
	config Config
	now    func() time.Time

	mu  sync.RWMutex
	hot map[hotKey]hotEntry
}

var _ Store = (*Redis)(nil)

type hotKey struct {
	ns  string
	key string
}

type hotEntry struct {
	at    time.Time
	value []byte
	ok    bool
}

// NewRedis connects to a redis server given a URL on the form
// redis://host:port/db.
func NewRedis(url string, config Config) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisWithClient(redis.NewClient(opts), config), nil
}

// NewRedisWithClient wraps an existing client. Used by tests.
func NewRedisWithClient(client Client, config Config) *Redis {
	return &Redis{
		client: client,
		config: config,
		now:    time.Now,
		hot:    map[hotKey]hotEntry{},
	}
}

func (r *Redis) Get(ctx context.Context, ns, key string) ([]byte, bool) {
	cfg := r.config[ns]

	if cfg.Cache {
		if value, ok, hit := r.hotGet(ns, key, cfg.Expiry); hit {
			return value, ok
		}
	}

	value, err := r.client.HGet(ctx, ns, key).Bytes()
	ok := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		logrus.WithError(err).WithField("namespace", ns).Error("redis HGET failed")
	}

	if cfg.Cache {
		r.hotSet(ns, key, value, ok)
	}

	if !ok {
		return nil, false
	}
	return value, true
}

func (r *Redis) hotGet(ns, key string, expiry time.Duration) (value []byte, ok bool, hit bool) {
	k := hotKey{ns, key}

	r.mu.RLock()
	entry, found := r.hot[k]
	r.mu.RUnlock()
	if !found {
		return nil, false, false
	}

	if expiry > 0 && r.now().Sub(entry.at) >= expiry {
		r.mu.Lock()
		// Recheck: another goroutine may have refreshed it.
		if entry, found = r.hot[k]; found && r.now().Sub(entry.at) >= expiry {
			delete(r.hot, k)
			found = false
		}
		r.mu.Unlock()
		if !found {
			return nil, false, false
		}
	}

	return entry.value, entry.ok, true
}

func (r *Redis) hotSet(ns, key string, value []byte, ok bool) {
	r.mu.Lock()
	r.hot[hotKey{ns, key}] = hotEntry{at: r.now(), value: value, ok: ok}
	r.mu.Unlock()
}

func (r *Redis) hotDelete(ns, key string) {
	r.mu.Lock()
	delete(r.hot, hotKey{ns, key})
	r.mu.Unlock()
}

func (r *Redis) Set(ctx context.Context, ns, key string, value []byte) {
	if err := r.client.HSet(ctx, ns, key, value).Err(); err != nil {
		logrus.WithError(err).WithField("namespace", ns).Error("redis HSET failed")
	}
	r.hotDelete(ns, key)
}

func (r *Redis) Delete(ctx context.Context, ns, key string) {
	if err := r.client.HDel(ctx, ns, key).Err(); err != nil {
		logrus.WithError(err).WithField("namespace", ns).Error("redis HDEL failed")
	}
	r.hotDelete(ns, key)
}

func (r *Redis) Add(ctx context.Context, ns, member string) {
	if err := r.client.SAdd(ctx, ns, member).Err(); err != nil {
		logrus.WithError(err).WithField("namespace", ns).Error("redis SADD failed")
	}
}

func (r *Redis) Remove(ctx context.Context, ns, member string) {
	if err := r.client.SRem(ctx, ns, member).Err(); err != nil {
		logrus.WithError(err).WithField("namespace", ns).Error("redis SREM failed")
	}
}

func (r *Redis) Has(ctx context.Context, ns, member string) bool {
	ok, err := r.client.SIsMember(ctx, ns, member).Result()
	if err != nil {
		logrus.WithError(err).WithField("namespace", ns).Error("redis SISMEMBER failed")
		return false
	}
	return ok
}

func (r *Redis) Cardinality(ctx context.Context, ns string) int64 {
	n, err := r.client.SCard(ctx, ns).Result()
	if err != nil {
		logrus.WithError(err).WithField("namespace", ns).Error("redis SCARD failed")
		return 0
	}
	return n
}

func (r *Redis) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.hot = map[hotKey]hotEntry{}
	r.mu.Unlock()
	return r.client.FlushDB(ctx).Err()
}

// WriteSnapshot asks the server to persist itself. Durability is the
// server's concern; this is best effort.
func (r *Redis) WriteSnapshot(ctx context.Context) error {
	return r.client.Save(ctx).Err()
}

// LoadSnapshot is a no-op: the server's dataset is already live.
func (r *Redis) LoadSnapshot(ctx context.Context) error {
	return nil
}
