package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/auth"
)

const pendingKeyPrefix = "edmm:pending:"

var nowFunc = time.Now // mockable

// Open connects to the configured redis server.
func Open(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

// PendingStore shares pending double authentication challenges between processes.
// Expiry is left to redis.
type PendingStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ auth.PendingStore = (*PendingStore)(nil)

func NewPendingStore(rdb *redis.Client, ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PendingStore{rdb: rdb, ttl: ttl}
}

func pendingKey(token string) string {
	return pendingKeyPrefix + token
}

func (s *PendingStore) Put(ctx context.Context, token string, ch auth.PendingChallenge) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = nowFunc().UTC()
	}
	value, err := json.Marshal(ch)
	if err != nil {
		return errors.Wrap(err, "encoding pending challenge")
	}
	return errors.Wrap(s.rdb.Set(ctx, pendingKey(token), value, s.ttl).Err(), "storing pending challenge")
}

func (s *PendingStore) Take(ctx context.Context, token string) (auth.PendingChallenge, error) {
	var ch auth.PendingChallenge
	value, err := s.rdb.GetDel(ctx, pendingKey(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ch, auth.ErrChallengeNotFound
		}
		return ch, errors.Wrap(err, "taking pending challenge")
	}
	if err = json.Unmarshal(value, &ch); err != nil {
		return ch, errors.Wrap(err, "decoding pending challenge")
	}
	return ch, nil
}

func (s *PendingStore) Delete(ctx context.Context, token string) error {
	return errors.Wrap(s.rdb.Del(ctx, pendingKey(token)).Err(), "deleting pending challenge")
}
