package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatbot/internal/ports"
)

// Speaker is a SpeechOutput that synthesizes text and plays the resulting clip.
type Speaker struct {
	synth  ports.Synthesizer
	player ports.AudioPlayer
	logger zerolog.Logger

	mu      sync.Mutex
	current *utterance
	closed  bool
}

type utterance struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSpeaker(synth ports.Synthesizer, player ports.AudioPlayer, logger zerolog.Logger) *Speaker {
	return &Speaker{
		synth:  synth,
		player: player,
		logger: logger.With().Str("component", "speaker").Logger(),
	}
}

// Speak interrupts any utterance in progress and vocalizes text. listener hears
// exactly one OnSpeechPlaybackDone unless this utterance is interrupted too.
func (s *Speaker) Speak(text string, listener ports.PlaybackListener) {
	ctx, cancel := context.WithCancel(context.Background())
	u := &utterance{id: uuid.NewString(), ctx: ctx, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	previous := s.current
	s.current = u
	s.mu.Unlock()

	if previous != nil {
		previous.cancel()
	}
	go s.play(u, previous, text, listener)
}

// Stop interrupts the current utterance without a completion callback.
func (s *Speaker) Stop() {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil {
		current.cancel()
	}
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil {
		current.cancel()
		<-current.done
	}
	return nil
}

func (s *Speaker) play(u *utterance, previous *utterance, text string, listener ports.PlaybackListener) {
	defer close(u.done)
	defer u.cancel()

	if previous != nil {
		<-previous.done
	}

	logger := s.logger.With().Str("utterance_id", u.id).Logger()
	start := time.Now()

	if strings.TrimSpace(text) != "" {
		audio, err := s.synth.Synthesize(u.ctx, text)
		switch {
		case u.ctx.Err() != nil:
			return
		case err != nil:
			logger.Warn().Err(err).Msg("speech synthesis failed")
		default:
			if err := s.player.Play(u.ctx, audio); err != nil && u.ctx.Err() == nil {
				logger.Warn().Err(err).Msg("speech playback failed")
			}
		}
	}

	s.mu.Lock()
	interrupted := u.ctx.Err() != nil || s.current != u
	if !interrupted {
		s.current = nil
	}
	s.mu.Unlock()

	if interrupted {
		logger.Debug().Msg("utterance interrupted")
		return
	}
	logger.Debug().Dur("elapsed", time.Since(start)).Msg("utterance finished")
	if listener != nil {
		listener.OnSpeechPlaybackDone()
	}
}
