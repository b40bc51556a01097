package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAITTSURL   = "https://api.openai.com/v1/audio/speech"
	providerOpenAI = "openai"

	ModelTTS1    = "tts-1"
	VoiceShimmer = "shimmer"
)

// OpenAI synthesizes MP3 speech through the OpenAI audio API.
type OpenAI struct {
	config  *Config
	baseURL string
	http    *httpSynth
}

func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := defaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceShimmer
	cfg.apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAITTSURL
	}

	o := &OpenAI{config: cfg, baseURL: baseURL}
	o.http = &httpSynth{
		provider:   providerOpenAI,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With().Str("component", "tts.openai").Logger(),
		parseError: parseOpenAIError,
	}
	return o, nil
}

func (o *OpenAI) Name() string { return providerOpenAI }

func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	payload := map[string]any{
		"model":           o.config.ModelID,
		"voice":           o.config.VoiceID,
		"input":           text,
		"response_format": "mp3",
	}
	audio, err := o.http.post(ctx, o.baseURL, payload, map[string]string{
		"Authorization": "Bearer " + o.config.APIKey,
		"Content-Type":  "application/json",
	})
	if err != nil {
		return nil, err
	}

	o.http.logger.Debug().
		Int("chars", len(text)).
		Int("bytes", len(audio)).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Str("voice", o.config.VoiceID).
		Msg("synthesized audio")
	return audio, nil
}

func parseOpenAIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message, Provider: providerOpenAI}
}
