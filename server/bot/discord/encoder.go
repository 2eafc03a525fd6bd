package discord

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/jonas747/dca"
)

// DCAEncoder encodes an audio byte stream to opus frames via ffmpeg.
// Volume is applied at encode start; a change takes effect on the next
// Play.
type DCAEncoder struct {
	mu     sync.Mutex
	volume float64
}

func NewDCAEncoder() FrameEncoder {
	return &DCAEncoder{volume: 1}
}

func (e *DCAEncoder) SetVolume(volume float64) {
	e.mu.Lock()
	e.volume = volume
	e.mu.Unlock()
}

func (e *DCAEncoder) Encode(ctx context.Context, src io.Reader, frames chan<- []byte) error {
	e.mu.Lock()
	volume := e.volume
	e.mu.Unlock()

	opts := *dca.StdEncodeOptions
	opts.RawOutput = true
	opts.Volume = int(volume * 256)

	session, err := dca.EncodeMem(src, &opts)
	if err != nil {
		return err
	}
	defer session.Cleanup()

	for {
		frame, err := session.OpusFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
