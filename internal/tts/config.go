package tts

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds provider settings. Use the With options to set them.
type Config struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger zerolog.Logger
}

// Option configures a provider.
type Option func(*Config)

func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

func WithVoice(voiceID string) Option {
	return func(c *Config) { c.VoiceID = voiceID }
}

func WithModel(modelID string) Option {
	return func(c *Config) { c.ModelID = modelID }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.Timeout = timeout }
}

// WithRetries sets how many times 429 and 5xx responses are retried, with linear backoff.
func WithRetries(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func defaultConfig() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		Logger:     zerolog.Nop(),
	}
}

func (c *Config) apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}
