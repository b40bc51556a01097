package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// httpSynth posts a JSON payload and returns the audio body, retrying 429 and 5xx.
type httpSynth struct {
	provider   string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
	parseError func(resp *http.Response) error
}

func (h *httpSynth) post(ctx context.Context, url string, payload any, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapError(h.provider, fmt.Errorf("marshal payload: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(h.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, wrapError(h.provider, fmt.Errorf("create request: %w", err))
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = wrapError(h.provider, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := h.parseError(resp)
			resp.Body.Close()
			lastErr = apiErr
			if retryable, ok := apiErr.(*APIError); ok && retryable.IsRetryable() {
				h.logger.Warn().Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("retrying synthesis request")
				continue
			}
			return nil, apiErr
		}

		audio, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, wrapError(h.provider, fmt.Errorf("read response: %w", err))
		}
		return audio, nil
	}
	return nil, lastErr
}
