package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const rosterKey = "presence:online"

// RedisRoster shares the online set between server instances. Each member
// is scored with its expiry time; members not refreshed within ttl drop out
// even if their instance died without a disconnect.
type RedisRoster struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRoster parses url, e.g. redis://localhost:6379/0, and pings the server.
func NewRedisRoster(ctx context.Context, url string, ttl time.Duration) (*RedisRoster, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisRosterWithClient(c, ttl), nil
}

func NewRedisRosterWithClient(c *redis.Client, ttl time.Duration) *RedisRoster {
	return &RedisRoster{client: c, ttl: ttl, now: time.Now}
}

var _ Roster = (*RedisRoster)(nil)

func (r *RedisRoster) expiry() float64 {
	return float64(r.now().Add(r.ttl).Unix())
}

func (r *RedisRoster) Add(ctx context.Context, userID int) error {
	return r.client.ZAdd(ctx, rosterKey, redis.Z{Score: r.expiry(), Member: strconv.Itoa(userID)}).Err()
}

func (r *RedisRoster) Remove(ctx context.Context, userID int) error {
	return r.client.ZRem(ctx, rosterKey, strconv.Itoa(userID)).Err()
}

func (r *RedisRoster) Refresh(ctx context.Context, userIDs []int) error {
	if len(userIDs) == 0 {
		return nil
	}
	score := r.expiry()
	members := make([]redis.Z, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, redis.Z{Score: score, Member: strconv.Itoa(id)})
	}
	return r.client.ZAdd(ctx, rosterKey, members...).Err()
}

func (r *RedisRoster) Online(ctx context.Context) ([]int, error) {
	now := strconv.FormatInt(r.now().Unix(), 10)
	if err := r.client.ZRemRangeByScore(ctx, rosterKey, "-inf", "("+now).Err(); err != nil {
		return nil, err
	}
	members, err := r.client.ZRangeByScore(ctx, rosterKey, &redis.ZRangeBy{Min: now, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (r *RedisRoster) Close() error {
	return r.client.Close()
}
