package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"

	// ModelTurboV2_5 is the lowest latency English model.
	ModelTurboV2_5      = "eleven_turbo_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs synthesizes MP3 speech through the ElevenLabs REST API.
type ElevenLabs struct {
	config  *Config
	baseURL string
	http    *httpSynth
}

func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := defaultConfig()
	cfg.ModelID = ModelTurboV2_5
	cfg.apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.VoiceID == "" {
		return nil, ErrNoVoiceID
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	e := &ElevenLabs{config: cfg, baseURL: baseURL}
	e.http = &httpSynth{
		provider:   providerElevenLabs,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With().Str("component", "tts.elevenlabs").Logger(),
		parseError: parseElevenLabsError,
	}
	return e, nil
}

func (e *ElevenLabs) Name() string { return providerElevenLabs }

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	url := fmt.Sprintf("%s/text-to-speech/%s", e.baseURL, e.config.VoiceID)
	payload := map[string]any{
		"text":     text,
		"model_id": e.config.ModelID,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}
	audio, err := e.http.post(ctx, url, payload, map[string]string{
		"xi-api-key":   e.config.APIKey,
		"Content-Type": "application/json",
		"Accept":       "audio/mpeg",
	})
	if err != nil {
		return nil, err
	}

	e.http.logger.Debug().
		Int("chars", len(text)).
		Int("bytes", len(audio)).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("synthesized audio")
	return audio, nil
}

func parseElevenLabsError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message, Provider: providerElevenLabs}
}
