package bridge

import (
	"context"
	"time"
)

// Rough MP3 byte rate used to approximate playback time (128 kbps).
const mp3BytesPerSecond = 16000

const (
	minPlayback = 500 * time.Millisecond
	maxPlayback = 30 * time.Second
)

// Player forwards synthesized audio over the meeting channel and blocks for
// the estimated playback duration. The actual audio element runs in the
// patient view, so the estimate stands in for a playback-finished signal;
// clamped to keep a bad estimate from stalling the conversation.
type Player struct {
	channel *Channel
}

func NewPlayer(channel *Channel) *Player {
	return &Player{channel: channel}
}

func (p *Player) Play(ctx context.Context, audio []byte) error {
	p.channel.Audio(audio)

	d := time.Duration(len(audio)) * time.Second / mp3BytesPerSecond
	if d < minPlayback {
		d = minPlayback
	}
	if d > maxPlayback {
		d = maxPlayback
	}

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
