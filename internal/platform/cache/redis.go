// Package cache stores short-lived string lists keyed by name. The booking
// service keeps each doctor-day's occupied slot times here.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "booking:"

// Redis is a cache backed by a Redis server. Entries expire after ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to url (redis://[:password@]host:port/db) and pings it,
// retrying a few times while the server comes up.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	const attempts = 5
	for i := 1; ; i++ {
		err = client.Ping(ctx).Err()
		if err == nil {
			break
		}
		if i == attempts {
			client.Close()
			return nil, fmt.Errorf("ping redis after %d attempts: %w", attempts, err)
		}
		log.Warn().Err(err).Int("attempt", i).Msg("redis not ready, retrying")
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// genTTL bounds how long a generation counter outlives its last bump.
// Readers hold a generation for one store round trip, far less than this.
const genTTL = 24 * time.Hour

func genKey(key string) string { return keyPrefix + "gen:" + key }

func (r *Redis) Get(ctx context.Context, key string) ([]string, int64, bool, error) {
	res, err := r.client.MGet(ctx, keyPrefix+key, genKey(key)).Result()
	if err != nil {
		return nil, 0, false, err
	}
	gen, err := parseGen(res[1])
	if err != nil {
		return nil, 0, false, fmt.Errorf("decode generation of %s: %w", key, err)
	}
	raw, ok := res[0].(string)
	if !ok {
		return nil, gen, false, nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, gen, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return vals, gen, true, nil
}

func parseGen(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

var errStaleGeneration = errors.New("stale generation")

// SetIfGeneration writes under WATCH on the generation key, so an
// Invalidate between the check and the write aborts the transaction.
func (r *Redis) SetIfGeneration(ctx context.Context, key string, gen int64, values []string) (bool, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return false, err
	}
	gk := genKey(key)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyPrefix+key, raw, r.ttl)
			return nil
		})
		return err
	}, gk)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyPrefix+key)
		pipe.Incr(ctx, genKey(key))
		pipe.Expire(ctx, genKey(key), genTTL)
		return nil
	})
	return err
}

func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
