package playback

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"soundvault/server/bot/domain"
	commonlog "soundvault/server/common/log"
)

const defaultConnectTimeout = 30 * time.Second

// Source is one playable byte source. Stream is the primary path; URL
// is the fallback used when the private stream cannot be opened.
type Source struct {
	Name   string
	Stream io.ReadCloser
	URL    string
}

// VoiceConn is a live voice connection supplied by the chat platform
// adapter. Play replaces whatever the connection is currently playing.
type VoiceConn interface {
	Ready() <-chan struct{}
	Play(ctx context.Context, src Source, volume float64) error
	SetVolume(volume float64)
	Stop()
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, guildID, channelID string) (VoiceConn, error)
}

type ObjectStore interface {
	GetStream(ctx context.Context, guildID, name string) (io.ReadCloser, error)
	PublicURL(guildID, name string) string
}

type SettingsProvider interface {
	GetSettings(ctx context.Context, guildID string) domain.GuildSettings
	LogPlay(ctx context.Context, guildID, fileName, userID string)
}

type Notifier interface {
	PlaybackStarted(guildID, fileName string)
	PlaybackStopped(guildID string)
	VolumeChanged(guildID string, volume float64)
}

type PlayPublisher interface {
	PublishPlay(ctx context.Context, event domain.PlayEvent)
}

type session struct {
	conn           VoiceConn
	channelID      string
	volume         float64
	manualOverride bool
	current        string
}

type SessionInfo struct {
	GuildID   string  `json:"guild_id"`
	ChannelID string  `json:"channel_id"`
	Playing   string  `json:"playing"`
	Volume    float64 `json:"volume"`
}

// Coordinator owns at most one voice session per guild. Operations for
// the same guild are serialized by a per-guild lock; different guilds
// proceed fully concurrently.
type Coordinator struct {
	dialer         Dialer
	store          ObjectStore
	settings       SettingsProvider
	notifier       Notifier
	publisher      PlayPublisher
	resolver       TrackResolver
	connectTimeout time.Duration

	mu        sync.Mutex
	sessions  map[string]*session
	locks     map[string]*sync.Mutex
	overrides map[string]float64
}

func NewCoordinator(dialer Dialer, store ObjectStore, settings SettingsProvider, notifier Notifier, publisher PlayPublisher) *Coordinator {
	return &Coordinator{
		dialer:         dialer,
		store:          store,
		settings:       settings,
		notifier:       notifier,
		publisher:      publisher,
		connectTimeout: defaultConnectTimeout,
		sessions:       map[string]*session{},
		locks:          map[string]*sync.Mutex{},
		overrides:      map[string]float64{},
	}
}

// SetConnectTimeout bounds voice-connection establishment.
func (c *Coordinator) SetConnectTimeout(d time.Duration) {
	if d > 0 {
		c.connectTimeout = d
	}
}

// SetResolver attaches the streaming engine consumed by PlayResolved.
func (c *Coordinator) SetResolver(r TrackResolver) {
	c.resolver = r
}

// Play streams a stored object into the guild's voice channel. An
// active session is reused or replaced, never duplicated.
func (c *Coordinator) Play(ctx context.Context, guildID, channelID, objectName, userID string) error {
	src, err := c.resolveObjectSource(ctx, guildID, objectName)
	if err != nil {
		return err
	}
	return c.playSource(ctx, guildID, channelID, src, objectName, userID)
}

// PlayTrack plays a track already resolved by the streaming engine.
func (c *Coordinator) PlayTrack(ctx context.Context, guildID, channelID string, track domain.Track, userID string) error {
	src := Source{Name: track.Title, URL: track.StreamURL}
	return c.playSource(ctx, guildID, channelID, src, track.Identifier, userID)
}

// PlayResolved resolves an identifier through the streaming engine and
// plays the result.
func (c *Coordinator) PlayResolved(ctx context.Context, guildID, channelID, identifier, userID string) error {
	if c.resolver == nil {
		return domain.Validationf("no streaming engine is configured")
	}
	track, err := c.resolver.Resolve(ctx, identifier)
	if err != nil {
		return err
	}
	return c.PlayTrack(ctx, guildID, channelID, track, userID)
}

func (c *Coordinator) resolveObjectSource(ctx context.Context, guildID, objectName string) (Source, error) {
	stream, err := c.store.GetStream(ctx, guildID, objectName)
	if err != nil {
		// Falling back to the public URL bypasses private-stream
		// semantics and requires public object readability.
		commonlog.Warnf("stream %s for guild %s unavailable, falling back to public url: %v", objectName, guildID, err)
		return Source{Name: objectName, URL: c.store.PublicURL(guildID, objectName)}, nil
	}
	return Source{Name: objectName, Stream: stream}, nil
}

func (c *Coordinator) playSource(ctx context.Context, guildID, channelID string, src Source, logName, userID string) error {
	lock := c.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	sess := c.session(guildID)
	if sess != nil && sess.channelID != channelID {
		c.teardown(guildID, sess)
		sess = nil
	}

	if sess == nil {
		conn, err := c.dial(ctx, guildID, channelID)
		if err != nil {
			closeSource(src)
			return err
		}
		sess = &session{conn: conn, channelID: channelID}
		if override, ok := c.override(guildID); ok {
			sess.volume = override
			sess.manualOverride = true
		}
	}

	volume := sess.volume
	if !sess.manualOverride {
		volume = c.settings.GetSettings(ctx, guildID).DefaultVolume
	}

	if err := sess.conn.Play(ctx, src, volume); err != nil {
		c.teardown(guildID, sess)
		return domain.E(domain.KindVoiceConnect, "play", guildID, src.Name, err)
	}

	// Sessions() reads these fields under c.mu alone, so they are only
	// ever written under the same lock.
	c.mu.Lock()
	sess.volume = volume
	sess.current = src.Name
	c.sessions[guildID] = sess
	c.mu.Unlock()

	if c.notifier != nil {
		c.notifier.PlaybackStarted(guildID, src.Name)
	}
	c.settings.LogPlay(ctx, guildID, logName, userID)
	if c.publisher != nil {
		c.publisher.PublishPlay(ctx, domain.PlayEvent{
			GuildID:  guildID,
			FileName: logName,
			UserID:   userID,
			PlayedAt: time.Now(),
		})
	}
	return nil
}

// Stop halts playback and tears down the voice connection. Calling it
// with no active session reports false rather than erroring.
func (c *Coordinator) Stop(guildID string) bool {
	lock := c.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	sess := c.session(guildID)
	if sess == nil {
		return false
	}
	c.teardown(guildID, sess)
	if c.notifier != nil {
		c.notifier.PlaybackStopped(guildID)
	}
	return true
}

// SetVolume clamps to [0,1], applies to the live session if one exists
// and records the value for the guild's next play either way.
func (c *Coordinator) SetVolume(guildID string, fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	lock := c.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	c.overrides[guildID] = fraction
	sess := c.sessions[guildID]
	if sess != nil {
		sess.volume = fraction
		sess.manualOverride = true
	}
	c.mu.Unlock()

	if sess != nil {
		sess.conn.SetVolume(fraction)
	}
	if c.notifier != nil {
		c.notifier.VolumeChanged(guildID, fraction)
	}
	return fraction
}

func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]SessionInfo, 0, len(c.sessions))
	for guildID, sess := range c.sessions {
		items = append(items, SessionInfo{
			GuildID:   guildID,
			ChannelID: sess.channelID,
			Playing:   sess.current,
			Volume:    sess.volume,
		})
	}
	return items
}

// Shutdown tears down every active session.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	guilds := make([]string, 0, len(c.sessions))
	for guildID := range c.sessions {
		guilds = append(guilds, guildID)
	}
	c.mu.Unlock()

	for _, guildID := range guilds {
		c.Stop(guildID)
	}
}

func (c *Coordinator) dial(ctx context.Context, guildID, channelID string) (VoiceConn, error) {
	if c.dialer == nil {
		return nil, domain.E(domain.KindVoiceConnect, "dial", guildID, "", errors.New("voice adapter not configured"))
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, guildID, channelID)
	if err != nil {
		return nil, domain.E(domain.KindVoiceConnect, "dial", guildID, "", err)
	}

	select {
	case <-conn.Ready():
		return conn, nil
	case <-dialCtx.Done():
		_ = conn.Close()
		return nil, domain.E(domain.KindVoiceConnect, "dial", guildID, "", dialCtx.Err())
	}
}

func (c *Coordinator) teardown(guildID string, sess *session) {
	sess.conn.Stop()
	if err := sess.conn.Close(); err != nil {
		commonlog.Warnf("close voice connection for guild %s: %v", guildID, err)
	}
	c.mu.Lock()
	delete(c.sessions, guildID)
	if sess.manualOverride {
		c.overrides[guildID] = sess.volume
	}
	c.mu.Unlock()
}

func (c *Coordinator) guildLock(guildID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[guildID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[guildID] = lock
	}
	return lock
}

func (c *Coordinator) session(guildID string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[guildID]
}

func (c *Coordinator) override(guildID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.overrides[guildID]
	return v, ok
}

func closeSource(src Source) {
	if src.Stream != nil {
		_ = src.Stream.Close()
	}
}
