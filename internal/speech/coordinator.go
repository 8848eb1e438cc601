package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Synthesizer produces playable audio for a piece of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player plays audio to completion. Implementations live at the edge (the
// patient-facing tab ultimately plays the audio); Play returns when playback
// finished, failed, or ctx was canceled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Signaler receives speaking-state transitions, typically to relay them to
// the patient tab so its recognizer pauses while the bot talks.
type Signaler interface {
	SpeakingStarted()
	SpeakingEnded()
}

// Coordinator serializes bot speech against patient speech capture. While an
// utterance is being spoken (plus a short grace window for the echo tail),
// Speaking reports true and callers must discard recognizer input, so the bot
// never transcribes its own voice.
type Coordinator struct {
	synth    Synthesizer
	player   Player
	signaler Signaler
	grace    time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	speaking   bool
	gen        uint64
	cancel     context.CancelFunc
	graceTimer *time.Timer
}

func NewCoordinator(synth Synthesizer, player Player, signaler Signaler, grace time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		synth:    synth,
		player:   player,
		signaler: signaler,
		grace:    grace,
		logger:   logger,
	}
}

// Speaking reports whether bot audio is hot on the channel. Stays true
// through the grace window after playback ends.
func (c *Coordinator) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Speak synthesizes and plays text, returning once playback has finished.
// A new call preempts any in-flight utterance (last write wins); the
// preempted call returns context.Canceled. Synthesis and playback failures
// are swallowed so the conversation never deadlocks on audio.
func (c *Coordinator) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.gen++
	gen := c.gen
	playCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	// Flag set happens-before playback start.
	c.speaking = true
	c.mu.Unlock()

	if c.signaler != nil {
		c.signaler.SpeakingStarted()
	}

	audio, err := c.synth.Synthesize(playCtx, text)
	if err != nil {
		// Availability over fidelity: proceed as if spoken instantly.
		c.logger.Warn("speech synthesis failed, skipping audio", "error", err)
		audio = nil
	}

	if len(audio) > 0 {
		if err := c.player.Play(playCtx, audio); err != nil {
			if playCtx.Err() != nil {
				return c.finish(gen, playCtx.Err())
			}
			c.logger.Warn("audio playback failed", "error", err)
		}
	}
	return c.finish(gen, nil)
}

// finish handles the end-of-playback transition: speaking_end is signaled
// immediately, the flag itself clears only after the grace delay (audio
// hardware echo tail; tunable, not a correctness mechanism).
func (c *Coordinator) finish(gen uint64, result error) error {
	c.mu.Lock()
	if gen != c.gen {
		// Preempted; the newer utterance owns the flag now.
		c.mu.Unlock()
		return context.Canceled
	}
	c.graceTimer = time.AfterFunc(c.grace, func() {
		c.mu.Lock()
		if gen == c.gen {
			c.speaking = false
		}
		c.mu.Unlock()
	})
	c.mu.Unlock()

	if c.signaler != nil {
		c.signaler.SpeakingEnded()
	}
	return result
}

// Stop cancels any in-flight utterance and clears the speaking flag once the
// grace window would have passed. Used when a meeting ends mid-sentence.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.gen++
	c.speaking = false
}
