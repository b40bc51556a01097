package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatbot/internal/domain"
	"chatbot/internal/ports"
)

// RecognizerConfig controls capture and end-of-utterance behavior.
type RecognizerConfig struct {
	Audio           ports.AudioConfig
	Streaming       ports.StreamingConfig
	ChunkSize       int
	StreamingGrace  time.Duration
	NoSpeechTimeout time.Duration
	StreamWait      time.Duration
}

// Recognizer is a SpeechInput backed by microphone capture and a streaming transcription provider.
type Recognizer struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	rules    ports.RulesEngine
	cfg      RecognizerConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	current *recognitionSession
	closed  bool
}

func NewRecognizer(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	rules ports.RulesEngine,
	cfg RecognizerConfig,
	logger zerolog.Logger,
) *Recognizer {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.StreamWait <= 0 {
		cfg.StreamWait = 4 * time.Second
	}
	return &Recognizer{
		audio:    audio,
		provider: provider,
		rules:    rules,
		cfg:      cfg,
		logger:   logger.With().Str("component", "recognizer").Logger(),
	}
}

type recognitionSession struct {
	ctx      context.Context
	cancel   context.CancelFunc
	listener ports.RecognitionListener

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (s *recognitionSession) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Begin starts a new recognition session, silently discarding any session in progress.
// It returns immediately; results arrive on listener.
func (r *Recognizer) Begin(listener ports.RecognitionListener) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &recognitionSession{
		ctx:      ctx,
		cancel:   cancel,
		listener: listener,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		close(session.done)
		r.logger.Debug().Msg("ignoring begin on closed recognizer")
		return
	}
	previous := r.current
	r.current = session
	r.mu.Unlock()

	go func() {
		if previous != nil {
			previous.cancel()
			<-previous.done
		}
		r.run(session)
	}()
}

// Stop ends the current utterance; the session still reports its result.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	if current != nil {
		current.requestStop()
	}
}

// Close discards the current session and rejects later Begin calls.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	r.closed = true
	current := r.current
	r.current = nil
	r.mu.Unlock()

	if current != nil {
		current.cancel()
		<-current.done
	}
	return nil
}

func (r *Recognizer) run(s *recognitionSession) {
	defer close(s.done)
	defer s.cancel()
	defer r.release(s)

	if s.ctx.Err() != nil {
		return
	}

	stream, err := r.provider.StartStreaming(s.ctx, r.cfg.Streaming)
	if err != nil {
		r.fail(s, err, domain.RecognitionErrorNetwork)
		return
	}

	audio, err := r.audio.Start(s.ctx, r.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		r.fail(s, err, domain.RecognitionErrorAudio)
		return
	}

	aggregator := newTranscriptAggregator()
	signals := newUtteranceSignals()
	eventsDone := make(chan struct{})
	audioDone := make(chan struct{})
	var audioErr error

	go consumeTranscriptionEvents(stream, aggregator, signals, eventsDone)
	go func() {
		defer close(audioDone)
		audioErr = pumpAudioChunks(audio, stream, r.cfg.ChunkSize)
	}()

	r.emit(s, func(l ports.RecognitionListener) { l.OnRecognitionReady() })
	r.logger.Debug().Msg("recognition session started")

	var noSpeech <-chan time.Time
	if r.cfg.NoSpeechTimeout > 0 {
		timer := time.NewTimer(r.cfg.NoSpeechTimeout)
		defer timer.Stop()
		noSpeech = timer.C
	}

	heard := signals.heard
	timedOut := false
	for waiting := true; waiting; {
		select {
		case <-s.ctx.Done():
			_ = audio.Stop()
			_ = stream.Close()
			<-eventsDone
			<-audioDone
			r.logger.Debug().Msg("recognition session discarded")
			return
		case <-heard:
			noSpeech = nil
			heard = nil
		case <-noSpeech:
			timedOut = true
			waiting = false
		case <-s.stop:
			waiting = false
		case <-signals.ended:
			waiting = false
		case <-audioDone:
			audioDone = nil
			waiting = false
		}
	}

	if err := audio.Stop(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to stop audio capture cleanly")
	}

	if r.cfg.StreamingGrace > 0 && !timedOut {
		timer := time.NewTimer(r.cfg.StreamingGrace)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
		}
	}

	_ = stream.CloseSend()
	streamErr := waitForStream(stream, r.cfg.StreamWait)
	_ = stream.Close()
	<-eventsDone
	if audioDone != nil {
		<-audioDone
	}

	raw := aggregator.Raw()
	switch {
	case raw == "" && audioErr != nil:
		r.fail(s, audioErr, domain.RecognitionErrorAudio)
	case raw == "" && streamErr != nil:
		r.fail(s, streamErr, domain.RecognitionErrorNetwork)
	case raw == "" && timedOut:
		r.fail(s, nil, domain.RecognitionErrorSpeechTimeout)
	case raw == "":
		r.fail(s, nil, domain.RecognitionErrorNoMatch)
	default:
		r.finish(s, raw)
	}
}

func (r *Recognizer) finish(s *recognitionSession, raw string) {
	transformed, err := r.rules.Apply(raw)
	if err != nil {
		r.fail(s, err, domain.RecognitionErrorClient)
		return
	}

	candidates := []string{transformed}
	if strings.TrimSpace(transformed) != raw {
		candidates = append(candidates, raw)
	}
	r.logger.Debug().Int("candidates", len(candidates)).Msg("recognition finished")
	r.emit(s, func(l ports.RecognitionListener) { l.OnRecognitionResult(candidates) })
}

func (r *Recognizer) fail(s *recognitionSession, err error, fallback domain.RecognitionErrorCode) {
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		return
	}
	code := domain.RecognitionErrorCodeOf(err, fallback)
	event := r.logger.Warn().Int("code", int(code))
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("recognition failed")
	r.emit(s, func(l ports.RecognitionListener) { l.OnRecognitionError(code) })
}

// emit delivers a callback unless the session was discarded.
func (r *Recognizer) emit(s *recognitionSession, fn func(ports.RecognitionListener)) {
	if s.ctx.Err() != nil || s.listener == nil {
		return
	}
	fn(s.listener)
}

func (r *Recognizer) release(s *recognitionSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == s {
		r.current = nil
	}
}
