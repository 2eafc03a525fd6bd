package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"soundvault/server/bot/playback"
	commonlog "soundvault/server/common/log"
)

// FrameEncoder turns raw audio bytes into opus frames for the voice
// gateway. Encoding/transcoding itself is an external collaborator; the
// adapter only moves frames.
type FrameEncoder interface {
	Encode(ctx context.Context, src io.Reader, frames chan<- []byte) error
	SetVolume(volume float64)
}

// Dialer adapts a discordgo session to the coordinator's Dialer
// interface. One encoder instance is created per voice connection.
type Dialer struct {
	session    *discordgo.Session
	newEncoder func() FrameEncoder
	httpClient *http.Client
}

func NewDialer(session *discordgo.Session, newEncoder func() FrameEncoder) *Dialer {
	if newEncoder == nil {
		newEncoder = NewDCAEncoder
	}
	return &Dialer{
		session:    session,
		newEncoder: newEncoder,
		httpClient: &http.Client{Timeout: 0},
	}
}

func (d *Dialer) Dial(ctx context.Context, guildID, channelID string) (playback.VoiceConn, error) {
	vc, err := d.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	conn := &voiceConn{
		vc:    vc,
		enc:   d.newEncoder(),
		http:  d.httpClient,
		ready: make(chan struct{}),
	}
	go conn.watchReady(ctx)
	return conn, nil
}

type voiceConn struct {
	vc    *discordgo.VoiceConnection
	enc   FrameEncoder
	http  *http.Client
	ready chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *voiceConn) watchReady(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.vc.Ready {
			close(c.ready)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *voiceConn) Ready() <-chan struct{} {
	return c.ready
}

func (c *voiceConn) Play(ctx context.Context, src playback.Source, volume float64) error {
	reader := src.Stream
	if reader == nil {
		resp, err := c.http.Get(src.URL)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return fmt.Errorf("fetch %s: unexpected status %d", src.Name, resp.StatusCode)
		}
		reader = resp.Body
	}

	c.stopCurrent()
	c.enc.SetVolume(volume)

	// Playback outlives the command that started it.
	playCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	_ = c.vc.Speaking(true)
	go func() {
		defer func() {
			_ = reader.Close()
			_ = c.vc.Speaking(false)
		}()
		if err := c.enc.Encode(playCtx, reader, c.vc.OpusSend); err != nil && playCtx.Err() == nil {
			commonlog.Warnf("encode %s: %v", src.Name, err)
		}
	}()
	return nil
}

func (c *voiceConn) SetVolume(volume float64) {
	c.enc.SetVolume(volume)
}

func (c *voiceConn) Stop() {
	c.stopCurrent()
}

func (c *voiceConn) Close() error {
	c.stopCurrent()
	return c.vc.Disconnect()
}

func (c *voiceConn) stopCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
