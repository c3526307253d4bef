package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/dto"
	"github.com/noah-isme/medilink-api/internal/repository"
)

// UserDirectory resolves user ids to display data and push tokens.
type UserDirectory interface {
	Summary(ctx context.Context, userID string) (dto.UserSummary, error)
	Summaries(ctx context.Context, userIDs []string) (map[string]dto.UserSummary, error)
	DeviceTokens(ctx context.Context, userIDs []string) ([]string, error)
}

type userDirectory struct {
	users    repository.UserRepository
	cache    *redis.Client
	cacheTTL time.Duration
	prefix   string
	logger   zerolog.Logger
}

// NewUserDirectory constructs a directory that caches display data in redis when a client is given.
func NewUserDirectory(users repository.UserRepository, cache *redis.Client, channelBase string, ttl time.Duration, logger zerolog.Logger) UserDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if channelBase == "" {
		channelBase = "medilink"
	}

	return &userDirectory{
		users:    users,
		cache:    cache,
		cacheTTL: ttl,
		prefix:   channelBase + ":directory",
		logger:   logger.With().Str("component", "user_directory").Logger(),
	}
}

func (d *userDirectory) Summary(ctx context.Context, userID string) (dto.UserSummary, error) {
	summaries, err := d.Summaries(ctx, []string{userID})
	if err != nil {
		return dto.UserSummary{}, err
	}

	summary, ok := summaries[userID]
	if !ok {
		return dto.UserSummary{}, fmt.Errorf("%w: user not found", ErrNotFound)
	}
	return summary, nil
}

// Summaries returns the users that exist; unknown ids are absent from the map.
func (d *userDirectory) Summaries(ctx context.Context, userIDs []string) (map[string]dto.UserSummary, error) {
	result := make(map[string]dto.UserSummary, len(userIDs))
	missing := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	if d.cache != nil {
		missing = d.readCache(ctx, missing, result)
		if len(missing) == 0 {
			return result, nil
		}
	}

	users, err := d.users.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}

	fetched := make([]dto.UserSummary, 0, len(users))
	for _, user := range users {
		summary := dto.NewUserSummary(user)
		result[user.ID] = summary
		fetched = append(fetched, summary)
	}

	if d.cache != nil && len(fetched) > 0 {
		d.writeCache(ctx, fetched)
	}

	return result, nil
}

func (d *userDirectory) DeviceTokens(ctx context.Context, userIDs []string) ([]string, error) {
	users, err := d.users.FindByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	tokens := make([]string, 0)
	for _, user := range users {
		for _, token := range user.DeviceTokens {
			if _, ok := seen[token]; ok || token == "" {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func (d *userDirectory) key(userID string) string {
	return fmt.Sprintf("%s:%s", d.prefix, userID)
}

func (d *userDirectory) readCache(ctx context.Context, ids []string, into map[string]dto.UserSummary) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = d.key(id)
	}

	values, err := d.cache.MGet(ctx, keys...).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.logger.Warn().Err(err).Msg("failed to read directory cache")
		}
		return ids
	}

	misses := make([]string, 0, len(ids))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var summary dto.UserSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		into[ids[i]] = summary
	}
	return misses
}

func (d *userDirectory) writeCache(ctx context.Context, summaries []dto.UserSummary) {
	pipe := d.cache.Pipeline()
	for _, summary := range summaries {
		payload, err := json.Marshal(summary)
		if err != nil {
			continue
		}
		pipe.Set(ctx, d.key(summary.ID), payload, d.cacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("failed to store directory cache")
	}
}

func summaryOrID(people map[string]dto.UserSummary, id string) dto.UserSummary {
	if summary, ok := people[id]; ok {
		return summary
	}
	return dto.UserSummary{ID: id}
}
