package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"chatbot/internal/audio"
	"chatbot/internal/config"
	"chatbot/internal/logging"
	"chatbot/internal/metrics"
	"chatbot/internal/ports"
	"chatbot/internal/prefs"
	"chatbot/internal/providers/deepgram"
	"chatbot/internal/providers/sendbird"
	"chatbot/internal/rules"
	"chatbot/internal/speech"
	"chatbot/internal/tts"
	"chatbot/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Credentials *prefs.CredentialsRepository
	Tokens      *prefs.TokenVault
	Chat        *sendbird.Client
	Initializer *usecase.ChatInitializer
	Rules       *rules.Engine
	TTSNames    []string

	log          *logging.Logger
	store        *prefs.Store
	rulesWatcher *rules.Watcher
	capture      ports.AudioCapture
	transcriber  ports.TranscriptionProvider
	synth        ports.Synthesizer
	player       ports.AudioPlayer
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// Build loads configuration and wires all backend dependencies for the current runtime.
func Build() (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Config{Dir: cfg.Logging.Dir, Level: cfg.Logging.Level, Console: cfg.Logging.Console})
	if err != nil {
		return nil, err
	}

	services, err := Assemble(cfg, log.Logger)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	services.log = log
	return services, nil
}

// Assemble wires the runtime graph from an already loaded configuration.
func Assemble(cfg config.Config, logger zerolog.Logger) (*Services, error) {
	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	store, err := prefs.Open(cfg.Storage.PrefsPath, map[string]string{
		prefs.KeyAppID:  cfg.Chat.DefaultAppID,
		prefs.KeyUserID: cfg.Chat.DefaultUserID,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Services{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics.New("chatbot"),
		Credentials: prefs.NewCredentialsRepository(store),
		Tokens:      prefs.NewTokenVault(cfg.Storage.KeyringService),
		Chat:        sendbird.NewClient(sendbird.Config{BaseURL: cfg.Chat.BaseURL}, logger),
		Rules:       rulesEngine,
		store:       store,
		capture:     audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		player:      audio.NewFFPlayPlayer(cfg.Audio.PlayerCommand),
		cancel:      cancel,
		transcriber: deepgram.NewProvider(deepgram.Config{
			APIKey:       cfg.Deepgram.APIKey,
			APIBaseURL:   cfg.Deepgram.APIBaseURL,
			Model:        cfg.Deepgram.Model,
			Language:     cfg.Deepgram.Language,
			SmartFormat:  cfg.Deepgram.SmartFormat,
			Endpointing:  cfg.Deepgram.Endpointing,
			UtteranceEnd: cfg.Deepgram.UtteranceEnd,
			KeepAlive:    cfg.Deepgram.KeepAlive,
		}),
	}
	s.Initializer = usecase.NewChatInitializer(s.Credentials, s.Tokens, s.Chat, logger)
	s.synth, s.TTSNames = buildSynthesizer(cfg.TTS, logger)
	s.rulesWatcher = watchRules(rulesEngine, cfg.Rules, logger)

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := s.Metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	return s, nil
}

func buildSynthesizer(cfg config.TTSConfig, logger zerolog.Logger) (ports.Synthesizer, []string) {
	var providers []tts.Provider

	if cfg.ElevenLabsAPIKey != "" {
		opts := []tts.Option{
			tts.WithAPIKey(cfg.ElevenLabsAPIKey),
			tts.WithVoice(cfg.ElevenLabsVoice),
			tts.WithTimeout(cfg.Timeout),
			tts.WithLogger(logger),
		}
		if cfg.ElevenLabsModel != "" {
			opts = append(opts, tts.WithModel(cfg.ElevenLabsModel))
		}
		if provider, err := tts.NewElevenLabs(opts...); err != nil {
			logger.Warn().Err(err).Msg("elevenlabs synthesis disabled")
		} else {
			providers = append(providers, provider)
		}
	}

	if cfg.OpenAIAPIKey != "" {
		opts := []tts.Option{
			tts.WithAPIKey(cfg.OpenAIAPIKey),
			tts.WithVoice(cfg.OpenAIVoice),
			tts.WithTimeout(cfg.Timeout),
			tts.WithLogger(logger),
		}
		if cfg.OpenAIModel != "" {
			opts = append(opts, tts.WithModel(cfg.OpenAIModel))
		}
		if provider, err := tts.NewOpenAI(opts...); err != nil {
			logger.Warn().Err(err).Msg("openai synthesis disabled")
		} else {
			providers = append(providers, provider)
		}
	}

	chain, err := tts.NewChain(logger, providers...)
	if err != nil {
		logger.Warn().Msg("no speech synthesis provider configured; replies will not be spoken")
		return tts.Unavailable{}, nil
	}
	return chain, chain.Names()
}

func watchRules(engine *rules.Engine, cfg config.RulesConfig, logger zerolog.Logger) *rules.Watcher {
	if engine.Path() == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(engine.Path()), 0o755); err != nil {
		logger.Warn().Err(err).Msg("rules hot reload disabled")
		return nil
	}
	watcher, err := rules.Watch(engine, cfg.ReloadDelay, logger, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("rules hot reload disabled")
		return nil
	}
	return watcher
}

// Conversation is a voice conversation bound to one chat channel.
type Conversation struct {
	*usecase.VoiceConversationController
	closeOnce sync.Once
	onClose   func()
}

// Close disposes the conversation and releases its speech engines.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		c.Dispose()
		c.onClose()
	})
}

// NewConversation builds a controller with its own recognizer and speaker for channelURL.
func (s *Services) NewConversation(channelURL string, sink ports.StateSink) (*Conversation, error) {
	cfg := s.Config
	recognizer := speech.NewRecognizer(s.capture, s.transcriber, s.Rules, speech.RecognizerConfig{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
		},
		ChunkSize:       cfg.Session.ChunkSize,
		StreamingGrace:  cfg.Session.StreamingGrace,
		NoSpeechTimeout: cfg.Session.NoSpeechTimeout,
	}, s.Logger)
	speaker := speech.NewSpeaker(s.synth, s.player, s.Logger)

	controller, err := usecase.NewVoiceConversationController(channelURL, usecase.Dependencies{
		Input:   recognizer,
		Output:  speaker,
		Chat:    s.Chat,
		Sink:    sink,
		Metrics: s.Metrics,
		Logger:  s.Logger,
	}, usecase.Config{
		RampStep:    cfg.Conversation.RampStep,
		SendTimeout: cfg.Chat.SendTimeout,
	})
	if err != nil {
		_ = recognizer.Close()
		_ = speaker.Close()
		return nil, err
	}

	s.Metrics.ConversationOpened()
	return &Conversation{VoiceConversationController: controller, onClose: s.Metrics.ConversationClosed}, nil
}

// Close releases the chat session, the rules watcher, the preferences store and the log file.
func (s *Services) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.rulesWatcher != nil {
			errs = append(errs, s.rulesWatcher.Close())
		}
		errs = append(errs, s.Initializer.Close(), s.store.Close())
		if s.log != nil {
			errs = append(errs, s.log.Close())
		}
	})
	return errors.Join(errs...)
}
