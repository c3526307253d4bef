package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outbox keeps the most recent user-addressed events in a capped redis stream per user so a
// reconnecting client can replay what it missed.
type Outbox struct {
	redis  *redis.Client
	prefix string
	maxLen int64
	ttl    time.Duration
}

// NewOutbox returns nil when redis is not configured.
func NewOutbox(client *redis.Client, channelBase string, maxLen int64, ttl time.Duration) *Outbox {
	if client == nil {
		return nil
	}
	if maxLen <= 0 {
		maxLen = 200
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if channelBase == "" {
		channelBase = "medilink"
	}

	return &Outbox{redis: client, prefix: channelBase + ":outbox", maxLen: maxLen, ttl: ttl}
}

func (o *Outbox) key(userID string) string {
	return fmt.Sprintf("%s:%s", o.prefix, userID)
}

// Append stores the event and returns its stream id.
func (o *Outbox) Append(ctx context.Context, userID string, event Event) (string, error) {
	event.ID = ""
	payload, err := json.Marshal(event)
	if err != nil {
		return "", err
	}

	key := o.key(userID)
	id, err := o.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": string(payload)},
	}).Result()
	if err != nil {
		return "", err
	}

	if err := o.redis.Expire(ctx, key, o.ttl).Err(); err != nil {
		return id, err
	}
	return id, nil
}

// Since returns the events stored after lastID, oldest first.
func (o *Outbox) Since(ctx context.Context, userID, lastID string) ([]Event, error) {
	entries, err := o.redis.XRange(ctx, o.key(userID), lastID, "+").Result()
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == lastID {
			continue
		}
		raw, ok := entry.Values["event"].(string)
		if !ok {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			continue
		}
		event.ID = entry.ID
		events = append(events, event)
	}
	return events, nil
}
