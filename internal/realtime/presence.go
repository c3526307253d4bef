package realtime

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records online users in a redis sorted set scored by their last heartbeat.
type Presence struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
	now   func() time.Time
}

// NewPresence returns nil when redis is not configured.
func NewPresence(client *redis.Client, channelBase string, ttl time.Duration) *Presence {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if channelBase == "" {
		channelBase = "medilink"
	}

	return &Presence{redis: client, key: channelBase + ":presence", ttl: ttl, now: time.Now}
}

// Touch marks the user online as of now.
func (p *Presence) Touch(ctx context.Context, userID string) error {
	err := p.redis.ZAdd(ctx, p.key, redis.Z{
		Score:  float64(p.now().Unix()),
		Member: userID,
	}).Err()
	if err != nil {
		return err
	}

	return p.redis.Expire(ctx, p.key, p.ttl*2).Err()
}

// Remove marks the user offline.
func (p *Presence) Remove(ctx context.Context, userID string) error {
	return p.redis.ZRem(ctx, p.key, userID).Err()
}

// Online returns the subset of userIDs with a heartbeat inside the TTL window, in input order.
func (p *Presence) Online(ctx context.Context, userIDs []string) ([]string, error) {
	threshold := p.now().Add(-p.ttl).Unix()
	if err := p.redis.ZRemRangeByScore(ctx, p.key, "-inf", "("+strconv.FormatInt(threshold, 10)).Err(); err != nil {
		return nil, err
	}

	members, err := p.redis.ZRange(ctx, p.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	online := make(map[string]struct{}, len(members))
	for _, member := range members {
		online[member] = struct{}{}
	}

	result := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := online[id]; ok {
			result = append(result, id)
		}
	}
	return result, nil
}
