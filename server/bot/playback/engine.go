package playback

import (
	"context"

	"soundvault/server/bot/domain"
)

// TrackResolver is the external streaming engine's search surface. The
// coordinator only consumes resolved tracks; search, queueing and node
// management all live on the engine side.
type TrackResolver interface {
	Search(ctx context.Context, query string) ([]domain.Track, error)
	Resolve(ctx context.Context, identifier string) (domain.Track, error)
}
