// Package quota keeps the process-wide per-user counters in Redis: a daily
// output charge with keys that expire at local midnight, and a lifetime
// download counter.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb      *redis.Client
	dailyMax int
}

func New(rdb *redis.Client, dailyMax int) *Store {
	return &Store{rdb: rdb, dailyMax: dailyMax}
}

func keyDaily(user int64, ymd string) string { return fmt.Sprintf("quota:%d:%s", user, ymd) }
func keyDownloads(user int64) string         { return fmt.Sprintf("downloads:%d", user) }

func today() string { return time.Now().Format("20060102") }

func untilMidnight() time.Duration {
	now := time.Now()
	tom := now.Add(24 * time.Hour)
	mid := time.Date(tom.Year(), tom.Month(), tom.Day(), 0, 0, 0, 0, now.Location())
	return time.Until(mid)
}

// Remaining reports how many outputs the user has left today.
func (s *Store) Remaining(ctx context.Context, user int64) (int, error) {
	used, err := s.rdb.Get(ctx, keyDaily(user, today())).Int()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	rem := s.dailyMax - used
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}

// Charge records n outputs against today's allowance and refreshes the
// midnight TTL on the key.
func (s *Store) Charge(ctx context.Context, user int64, n int) error {
	key := keyDaily(user, today())
	if err := s.rdb.IncrBy(ctx, key, int64(n)).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, untilMidnight()).Err()
}

// Allow reports whether n more outputs fit in today's allowance.
func (s *Store) Allow(ctx context.Context, user int64, n int) (bool, int, error) {
	rem, err := s.Remaining(ctx, user)
	if err != nil {
		return false, 0, err
	}
	return n <= rem, rem, nil
}

// CountDownload bumps the user's lifetime download counter.
func (s *Store) CountDownload(ctx context.Context, user int64) error {
	return s.rdb.Incr(ctx, keyDownloads(user)).Err()
}

// Downloads returns the user's lifetime download count.
func (s *Store) Downloads(ctx context.Context, user int64) (int64, error) {
	n, err := s.rdb.Get(ctx, keyDownloads(user)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
