package cache

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisProvider stores caches in redis.
// Cache names live in a sorted set scored by creation sequence,
// each cache is a hash of key to stored response.
// Writes run in MULTI/EXEC transactions.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisProvider returns a provider that prefixes all its redis keys with prefix.
func NewRedisProvider(client *redis.Client, prefix string) RedisProvider {
	return RedisProvider{client: client, prefix: prefix}
}

func (r RedisProvider) namesKey() string { return r.prefix + "names" }
func (r RedisProvider) seqKey() string   { return r.prefix + "seq" }
func (r RedisProvider) cacheKey(name string) string {
	return r.prefix + "cache:" + name
}

func (r RedisProvider) Create(ctx context.Context, name string) error {
	if exists, err := r.exists(ctx, name); err != nil || exists {
		return err
	}
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return err
	}
	return r.client.ZAddNX(ctx, r.namesKey(), redis.Z{Score: float64(seq), Member: name}).Err()
}

func (r RedisProvider) PutAll(ctx context.Context, name string, entries []Entry) error {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return err
	}
	values := make([]any, 0, len(entries)*2)
	for _, e := range entries {
		values = append(values, e.Key, e.Bytes)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, r.namesKey(), redis.Z{Score: float64(seq), Member: name})
		if len(values) > 0 {
			pipe.HSet(ctx, r.cacheKey(name), values...)
		}
		return nil
	})
	return err
}

func (r RedisProvider) Get(ctx context.Context, name, key string) ([]byte, error) {
	b, err := r.client.HGet(ctx, r.cacheKey(name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r RedisProvider) Keys(ctx context.Context, name string) ([]string, error) {
	if exists, err := r.exists(ctx, name); err != nil {
		return nil, err
	} else if !exists {
		return nil, ErrNotFound
	}
	keys, err := r.client.HKeys(ctx, r.cacheKey(name)).Result()
	if err != nil {
		return nil, err
	}
	// hashes are unordered
	sort.Strings(keys)
	return keys, nil
}

func (r RedisProvider) Names(ctx context.Context, prefix string) ([]string, error) {
	all, err := r.client.ZRange(ctx, r.namesKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for _, name := range all {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (r RedisProvider) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, r.namesKey(), name)
		pipe.Del(ctx, r.cacheKey(name))
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (r RedisProvider) Close() error {
	return r.client.Close()
}

func (r RedisProvider) exists(ctx context.Context, name string) (bool, error) {
	err := r.client.ZScore(ctx, r.namesKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}
