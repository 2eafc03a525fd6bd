package domain

import (
	"context"
	"time"
)

const (
	DefaultPrefix   = "!"
	DefaultVolume   = 0.5
	MaxPrefixLength = 5
)

type AudioObject struct {
	GuildID      string    `json:"guild_id"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url"`
}

type ObjectInfo struct {
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

type GuildSettings struct {
	GuildID       string    `json:"guild_id"`
	Prefix        string    `json:"prefix"`
	DefaultVolume float64   `json:"default_volume"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func DefaultGuildSettings(guildID string) GuildSettings {
	now := time.Now()
	return GuildSettings{
		GuildID:       guildID,
		Prefix:        DefaultPrefix,
		DefaultVolume: DefaultVolume,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

type PlayEvent struct {
	GuildID  string    `json:"guild_id"`
	FileName string    `json:"file_name"`
	UserID   string    `json:"user_id"`
	PlayedAt time.Time `json:"played_at"`
}

type FilePlayStats struct {
	FileName    string `json:"file_name"`
	PlayCount   int64  `json:"play_count"`
	UniqueUsers int64  `json:"unique_users"`
}

type PlayStats struct {
	TopFiles   []FilePlayStats `json:"top_files"`
	TotalPlays int64           `json:"total_plays"`
}

type BucketStats struct {
	FileCount      int   `json:"file_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

type GlobalStats struct {
	TenantCount    int   `json:"tenant_count"`
	FileCount      int   `json:"file_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

type Track struct {
	Title      string        `json:"title"`
	Author     string        `json:"author"`
	Identifier string        `json:"identifier"`
	StreamURL  string        `json:"stream_url"`
	ArtworkURL string        `json:"artwork_url"`
	Duration   time.Duration `json:"duration"`
}

// CatalogProvider enriches library listings with track metadata. It is an
// external collaborator; lookup failures degrade to bare filenames.
type CatalogProvider interface {
	Lookup(ctx context.Context, query string) (Track, error)
}
