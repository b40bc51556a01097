package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Build-time chat defaults, set with -ldflags "-X chatbot/internal/config.DefaultAppID=...".
var (
	DefaultAppID  = ""
	DefaultUserID = ""
)

// Config stores runtime configuration for the desktop client.
type Config struct {
	Chat         ChatConfig
	Conversation ConversationConfig
	Deepgram     DeepgramConfig
	Audio        AudioConfig
	TTS          TTSConfig
	Rules        RulesConfig
	Session      SessionConfig
	Storage      StorageConfig
	Logging      LoggingConfig
	Metrics      MetricsConfig
	// File is the config file that was read, if any.
	File string
}

type ChatConfig struct {
	BaseURL       string
	SendTimeout   time.Duration
	DefaultAppID  string
	DefaultUserID string
}

type ConversationConfig struct {
	RampStep time.Duration
}

type DeepgramConfig struct {
	APIKey       string
	APIBaseURL   string
	Model        string
	Language     string
	SmartFormat  bool
	Endpointing  time.Duration
	UtteranceEnd time.Duration
	KeepAlive    time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type TTSConfig struct {
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	ElevenLabsModel  string
	OpenAIAPIKey     string
	OpenAIVoice      string
	OpenAIModel      string
	Timeout          time.Duration
}

type RulesConfig struct {
	Path           string
	IterationLimit int
	ReloadDelay    time.Duration
}

type SessionConfig struct {
	ChunkSize       int
	StreamingGrace  time.Duration
	NoSpeechTimeout time.Duration
}

type StorageConfig struct {
	PrefsPath      string
	KeyringService string
}

type LoggingConfig struct {
	Dir     string
	Level   string
	Console bool
}

type MetricsConfig struct {
	// Addr enables a local /metrics listener when set, e.g. 127.0.0.1:9464.
	Addr string
}

// Load resolves configuration from the optional config file, environment variables and defaults.
// Environment variables use the CHATBOT_ prefix with dots replaced by underscores
// (CHATBOT_AUDIO_SAMPLE_RATE); provider keys are also read from their conventional names.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	dir := filepath.Join(home, ".config", "chatbot")

	v := viper.New()
	setDefaults(v, dir)

	v.SetEnvPrefix("CHATBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if file := strings.TrimSpace(os.Getenv("CHATBOT_CONFIG")); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Chat: ChatConfig{
			BaseURL:       stringOf(v, "chat.base_url"),
			SendTimeout:   durationOr(v, "chat.send_timeout", 30*time.Second),
			DefaultAppID:  stringOf(v, "chat.default_app_id"),
			DefaultUserID: stringOf(v, "chat.default_user_id"),
		},
		Conversation: ConversationConfig{
			RampStep: durationOr(v, "conversation.ramp_step", 30*time.Millisecond),
		},
		Deepgram: DeepgramConfig{
			APIKey:       stringOf(v, "deepgram.api_key"),
			APIBaseURL:   stringOf(v, "deepgram.api_base_url"),
			Model:        stringOf(v, "deepgram.model"),
			Language:     stringOf(v, "deepgram.language"),
			SmartFormat:  boolOr(v, "deepgram.smart_format", true),
			Endpointing:  durationOr(v, "deepgram.endpointing", 300*time.Millisecond),
			UtteranceEnd: durationOr(v, "deepgram.utterance_end", time.Second),
			KeepAlive:    durationOr(v, "deepgram.keep_alive", 5*time.Second),
		},
		Audio: AudioConfig{
			RecorderCommand: stringOf(v, "audio.recorder_command"),
			PlayerCommand:   stringOf(v, "audio.player_command"),
			InputFormat:     stringOf(v, "audio.input_format"),
			InputDevice:     stringOf(v, "audio.input_device"),
			SampleRate:      intOr(v, "audio.sample_rate", 16000),
			Channels:        intOr(v, "audio.channels", 1),
		},
		TTS: TTSConfig{
			ElevenLabsAPIKey: stringOf(v, "tts.elevenlabs_api_key"),
			ElevenLabsVoice:  stringOf(v, "tts.elevenlabs_voice"),
			ElevenLabsModel:  stringOf(v, "tts.elevenlabs_model"),
			OpenAIAPIKey:     stringOf(v, "tts.openai_api_key"),
			OpenAIVoice:      stringOf(v, "tts.openai_voice"),
			OpenAIModel:      stringOf(v, "tts.openai_model"),
			Timeout:          durationOr(v, "tts.timeout", 30*time.Second),
		},
		Rules: RulesConfig{
			Path:           stringOf(v, "rules.path"),
			IterationLimit: intOr(v, "rules.iteration_limit", 30),
			ReloadDelay:    durationOr(v, "rules.reload_delay", 250*time.Millisecond),
		},
		Session: SessionConfig{
			ChunkSize:       intOr(v, "session.chunk_size", 4096),
			StreamingGrace:  durationOr(v, "session.streaming_grace", time.Second),
			NoSpeechTimeout: durationOr(v, "session.no_speech_timeout", 8*time.Second),
		},
		Storage: StorageConfig{
			PrefsPath:      stringOf(v, "storage.prefs_path"),
			KeyringService: stringOf(v, "storage.keyring_service"),
		},
		Logging: LoggingConfig{
			Dir:     stringOf(v, "logging.dir"),
			Level:   stringOf(v, "logging.level"),
			Console: boolOr(v, "logging.console", true),
		},
		Metrics: MetricsConfig{
			Addr: stringOf(v, "metrics.addr"),
		},
		File: v.ConfigFileUsed(),
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Conversation.RampStep <= 0 {
		cfg.Conversation.RampStep = 30 * time.Millisecond
	}
	if cfg.Chat.SendTimeout <= 0 {
		cfg.Chat.SendTimeout = 30 * time.Second
	}

	return cfg, nil
}

// envAliases are conventional variable names read in addition to the CHATBOT_ prefixed ones.
var envAliases = map[string][]string{
	"deepgram.api_key":       {"DEEPGRAM_API_KEY"},
	"deepgram.api_base_url":  {"DEEPGRAM_API_BASE"},
	"deepgram.model":         {"DEEPGRAM_MODEL"},
	"deepgram.language":      {"DEEPGRAM_LANGUAGE"},
	"tts.elevenlabs_api_key": {"ELEVENLABS_API_KEY"},
	"tts.openai_api_key":     {"OPENAI_API_KEY"},
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("chat.base_url", "")
	v.SetDefault("chat.send_timeout", "30s")
	v.SetDefault("chat.default_app_id", DefaultAppID)
	v.SetDefault("chat.default_user_id", DefaultUserID)
	v.SetDefault("conversation.ramp_step", "30ms")

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.api_base_url", "https://api.deepgram.com/v1")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.language", "")
	v.SetDefault("deepgram.smart_format", "true")
	v.SetDefault("deepgram.endpointing", "300ms")
	v.SetDefault("deepgram.utterance_end", "1s")
	v.SetDefault("deepgram.keep_alive", "5s")

	v.SetDefault("audio.recorder_command", "ffmpeg")
	v.SetDefault("audio.player_command", "ffplay")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", "16000")
	v.SetDefault("audio.channels", "1")

	v.SetDefault("tts.elevenlabs_api_key", "")
	v.SetDefault("tts.elevenlabs_voice", "21m00Tcm4TlvDq8Ikxy5")
	v.SetDefault("tts.elevenlabs_model", "")
	v.SetDefault("tts.openai_api_key", "")
	v.SetDefault("tts.openai_voice", "shimmer")
	v.SetDefault("tts.openai_model", "")
	v.SetDefault("tts.timeout", "30s")

	v.SetDefault("rules.path", filepath.Join(dir, "substitutions.rules"))
	v.SetDefault("rules.iteration_limit", "30")
	v.SetDefault("rules.reload_delay", "250ms")

	v.SetDefault("session.chunk_size", "4096")
	v.SetDefault("session.streaming_grace", "1s")
	v.SetDefault("session.no_speech_timeout", "8s")

	v.SetDefault("storage.prefs_path", filepath.Join(dir, "preferences.db"))
	v.SetDefault("storage.keyring_service", "chatbot")

	v.SetDefault("logging.dir", filepath.Join(dir, "logs"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", "true")

	v.SetDefault("metrics.addr", "")
}

func stringOf(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func intOr(v *viper.Viper, key string, fallback int) int {
	parsed, err := strconv.Atoi(stringOf(v, key))
	if err != nil {
		return fallback
	}
	return parsed
}

// durationOr accepts Go durations ("250ms") or bare integers in milliseconds.
func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	value := stringOf(v, key)
	if ms, err := strconv.Atoi(value); err == nil {
		if ms < 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func boolOr(v *viper.Viper, key string, fallback bool) bool {
	switch strings.ToLower(stringOf(v, key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
