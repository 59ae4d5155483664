// services/presence_redis.go
package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const DefaultPresenceTTL = 45 * time.Second

func presenceKey(playerID string) string {
	return "presence:" + playerID
}

// RedisPresence tracks online players as expiring keys.
type RedisPresence struct {
	Client redis.UniversalClient
	TTL    time.Duration
}

func NewRedisPresence(client redis.UniversalClient, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresence{Client: client, TTL: ttl}
}

// MarkOnline refreshes the player's presence key.
func (p *RedisPresence) MarkOnline(ctx context.Context, playerID string) error {
	return eris.Wrapf(p.Client.Set(ctx, presenceKey(playerID), "1", p.TTL).Err(), "failed to mark %s online", playerID)
}

func (p *RedisPresence) MarkOffline(ctx context.Context, playerID string) error {
	return eris.Wrapf(p.Client.Del(ctx, presenceKey(playerID)).Err(), "failed to mark %s offline", playerID)
}

// GetOnline returns the subset of playerIDs that are online, in input order.
func (p *RedisPresence) GetOnline(ctx context.Context, playerIDs []string) ([]string, error) {
	online := []string{}
	if len(playerIDs) == 0 {
		return online, nil
	}
	keys := make([]string, len(playerIDs))
	for i, id := range playerIDs {
		keys[i] = presenceKey(id)
	}
	values, err := p.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "failed to read presence")
	}
	for i, v := range values {
		if v != nil {
			online = append(online, playerIDs[i])
		}
	}
	return online, nil
}
