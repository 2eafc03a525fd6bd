package settings

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"soundvault/server/bot/domain"
	commonlog "soundvault/server/common/log"
)

// DB is the slice of pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// GetSettings materializes the guild's row with defaults on first read.
// A store failure falls back to in-memory defaults so playback never
// blocks on settings availability.
func (s *Store) GetSettings(ctx context.Context, guildID string) domain.GuildSettings {
	var item domain.GuildSettings
	err := s.db.QueryRow(ctx, `
		INSERT INTO guild_settings(guild_id) VALUES($1)
		ON CONFLICT (guild_id) DO UPDATE SET guild_id = EXCLUDED.guild_id
		RETURNING guild_id, prefix, default_volume, created_at, updated_at
	`, guildID).Scan(&item.GuildID, &item.Prefix, &item.DefaultVolume, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		commonlog.Warnf("load settings for guild %s failed, using defaults: %v", guildID, err)
		return domain.DefaultGuildSettings(guildID)
	}
	return item
}

// UpdatePrefix upserts the row. Prefix length is validated by the
// caller before it reaches this layer.
func (s *Store) UpdatePrefix(ctx context.Context, guildID, prefix string) (domain.GuildSettings, error) {
	var item domain.GuildSettings
	err := s.db.QueryRow(ctx, `
		INSERT INTO guild_settings(guild_id, prefix) VALUES($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET prefix = EXCLUDED.prefix, updated_at = NOW()
		RETURNING guild_id, prefix, default_volume, created_at, updated_at
	`, guildID, prefix).Scan(&item.GuildID, &item.Prefix, &item.DefaultVolume, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.GuildSettings{}, domain.E(domain.KindSettingsStore, "update prefix", guildID, "", err)
	}
	return item, nil
}

func (s *Store) UpdateVolume(ctx context.Context, guildID string, fraction float64) (domain.GuildSettings, error) {
	fraction = ClampFraction(fraction)
	var item domain.GuildSettings
	err := s.db.QueryRow(ctx, `
		INSERT INTO guild_settings(guild_id, default_volume) VALUES($1, $2)
		ON CONFLICT (guild_id) DO UPDATE SET default_volume = EXCLUDED.default_volume, updated_at = NOW()
		RETURNING guild_id, prefix, default_volume, created_at, updated_at
	`, guildID, fraction).Scan(&item.GuildID, &item.Prefix, &item.DefaultVolume, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.GuildSettings{}, domain.E(domain.KindSettingsStore, "update volume", guildID, "", err)
	}
	return item, nil
}

// LogPlay is fire-and-forget: analytics must never block playback, so
// insert failures are logged and dropped.
func (s *Store) LogPlay(ctx context.Context, guildID, fileName, userID string) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO play_events(guild_id, file_name, user_id) VALUES($1, $2, $3)
	`, guildID, fileName, userID)
	if err != nil {
		commonlog.Warnf("log play event guild=%s file=%s: %v", guildID, fileName, err)
	}
}

func (s *Store) GetStats(ctx context.Context, guildID string) (domain.PlayStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT file_name, COUNT(*) AS play_count, COUNT(DISTINCT user_id) AS unique_users
		FROM play_events
		WHERE guild_id = $1
		GROUP BY file_name
		ORDER BY play_count DESC, file_name
		LIMIT 10
	`, guildID)
	if err != nil {
		return domain.PlayStats{}, domain.E(domain.KindSettingsStore, "get stats", guildID, "", err)
	}
	defer rows.Close()

	stats := domain.PlayStats{TopFiles: make([]domain.FilePlayStats, 0, 10)}
	for rows.Next() {
		var item domain.FilePlayStats
		if err := rows.Scan(&item.FileName, &item.PlayCount, &item.UniqueUsers); err != nil {
			return domain.PlayStats{}, domain.E(domain.KindSettingsStore, "get stats", guildID, "", err)
		}
		stats.TopFiles = append(stats.TopFiles, item)
	}
	if err := rows.Err(); err != nil {
		return domain.PlayStats{}, domain.E(domain.KindSettingsStore, "get stats", guildID, "", err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM play_events WHERE guild_id = $1
	`, guildID).Scan(&stats.TotalPlays)
	if err != nil {
		return domain.PlayStats{}, domain.E(domain.KindSettingsStore, "get stats", guildID, "", err)
	}
	return stats, nil
}

func ClampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizePercent converts user-facing 0-100 volume input to a stored
// fraction, pre-clamping to [0,100].
func NormalizePercent(p float64) float64 {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p / 100
}
