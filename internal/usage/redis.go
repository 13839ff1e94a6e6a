package usage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "jewelshoot:usage:"
	redisMaxAttempts = 50
	redisRetryDelay  = 2 * time.Millisecond
)

type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	UseTLS   bool
}

// ConnectRedis opens a client and verifies it with PING.
func ConnectRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	var tlsConfig *tls.Config
	if opts.UseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		TLSConfig:    tlsConfig,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// RedisStore keeps one client's record under a Redis key. Update uses
// WATCH/MULTI so concurrent writers never lose an increment.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, clientID string) *RedisStore {
	return &RedisStore{rdb: rdb, key: RedisKey(clientID)}
}

func RedisKey(clientID string) string {
	return redisKeyPrefix + clientID
}

func (s *RedisStore) Load(ctx context.Context) (Record, error) {
	return readRecord(ctx, s.rdb, s.key)
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) Update(ctx context.Context, fn func(*Record)) error {
	txf := func(tx *redis.Tx) error {
		rec, err := readRecord(ctx, tx, s.key)
		if err != nil {
			rec = Record{}
		}
		fn(&rec)

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, s.key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		select {
		case <-time.After(time.Duration(rand.IntN(i+1)+1) * redisRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("usage update for %s: too much contention", s.key)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readRecord(ctx context.Context, c stringGetter, key string) (Record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, nil
		}
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse usage record %s: %w", key, err)
	}
	return rec, nil
}

// RedisRegistry hands out one RedisStore per client id.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) For(clientID string) Store {
	return NewRedisStore(r.rdb, clientID)
}
