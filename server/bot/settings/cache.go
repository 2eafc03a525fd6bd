package settings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"soundvault/server/bot/domain"
	commonlog "soundvault/server/common/log"
)

const settingsKeyPrefix = "soundvault:settings:"

// CachedStore is a read-through cache in front of Store. Cache failures
// are never fatal; every path degrades to the database.
type CachedStore struct {
	store *Store
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedStore(store *Store, rdb *redis.Client) *CachedStore {
	return &CachedStore{store: store, rdb: rdb, ttl: 30 * time.Second}
}

func (c *CachedStore) GetSettings(ctx context.Context, guildID string) domain.GuildSettings {
	if c.rdb == nil {
		return c.store.GetSettings(ctx, guildID)
	}

	key := settingsKeyPrefix + guildID
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var item domain.GuildSettings
		if err := json.Unmarshal(raw, &item); err == nil {
			return item
		}
	}

	item := c.store.GetSettings(ctx, guildID)
	if raw, err := json.Marshal(item); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			commonlog.Debugf("cache settings for guild %s: %v", guildID, err)
		}
	}
	return item
}

func (c *CachedStore) UpdatePrefix(ctx context.Context, guildID, prefix string) (domain.GuildSettings, error) {
	item, err := c.store.UpdatePrefix(ctx, guildID, prefix)
	if err == nil {
		c.invalidate(ctx, guildID)
	}
	return item, err
}

func (c *CachedStore) UpdateVolume(ctx context.Context, guildID string, fraction float64) (domain.GuildSettings, error) {
	item, err := c.store.UpdateVolume(ctx, guildID, fraction)
	if err == nil {
		c.invalidate(ctx, guildID)
	}
	return item, err
}

func (c *CachedStore) LogPlay(ctx context.Context, guildID, fileName, userID string) {
	c.store.LogPlay(ctx, guildID, fileName, userID)
}

func (c *CachedStore) GetStats(ctx context.Context, guildID string) (domain.PlayStats, error) {
	return c.store.GetStats(ctx, guildID)
}

func (c *CachedStore) invalidate(ctx context.Context, guildID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, settingsKeyPrefix+guildID).Err(); err != nil {
		commonlog.Debugf("invalidate settings cache for guild %s: %v", guildID, err)
	}
}
