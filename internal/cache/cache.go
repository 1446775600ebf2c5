package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"teamboard/internal/domain"
)

const defaultTTL = 5 * time.Minute

// Redis caches team members and tags. A nil client disables caching and
// every read goes to the loader.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

func New(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{client: client, ttl: ttl, log: log.WithField("component", "cache")}
}

// Dial connects to addr and pings it. An empty addr returns a disabled cache.
func Dial(ctx context.Context, addr string, ttl time.Duration, log logrus.FieldLogger) (*Redis, error) {
	if addr == "" {
		return New(nil, ttl, log), nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, ttl, log), nil
}

func (c *Redis) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Redis) Members(ctx context.Context, teamID string, load func(context.Context) ([]domain.User, error)) ([]domain.User, error) {
	return readThrough(ctx, c, membersKey(teamID), load)
}

func (c *Redis) Tags(ctx context.Context, teamID string, load func(context.Context) ([]domain.Tag, error)) ([]domain.Tag, error) {
	return readThrough(ctx, c, tagsKey(teamID), load)
}

// Evict drops every cached entry of a team.
func (c *Redis) Evict(ctx context.Context, teamID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, membersKey(teamID), tagsKey(teamID)).Err(); err != nil {
		c.log.WithError(err).WithField("team_id", teamID).Warn("evict failed")
	}
}

func readThrough[T any](ctx context.Context, c *Redis, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var out []T
			if err := json.Unmarshal(data, &out); err == nil {
				return out, nil
			}
			_ = c.client.Del(ctx, key).Err()
		case err != redis.Nil:
			c.log.WithError(err).WithField("key", key).Warn("cache read failed; using store")
		}
	}
	out, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		data, err := json.Marshal(out)
		if err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				c.log.WithError(err).WithField("key", key).Debug("cache write failed")
			}
		}
	}
	return out, nil
}

func membersKey(teamID string) string {
	return "teamboard:members:" + teamID
}

func tagsKey(teamID string) string {
	return "teamboard:tags:" + teamID
}
