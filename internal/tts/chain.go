package tts

import (
	"context"

	"github.com/rs/zerolog"
)

// Provider is a named synthesizer.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Chain tries providers in order; the first success wins.
type Chain struct {
	providers []Provider
	logger    zerolog.Logger
}

func NewChain(logger zerolog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    logger.With().Str("component", "tts.chain").Logger(),
	}, nil
}

func (c *Chain) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var errs []error
	for i, p := range c.providers {
		audio, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info().Str("provider", p.Name()).Int("chars", len(text)).Msg("fallback provider succeeded")
			}
			return audio, nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("provider", p.Name()).Msg("provider failed, trying next")
	}
	return nil, &ChainError{Errors: errs}
}

// Names lists the providers in fallback order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Unavailable stands in when no provider is configured. Every call fails with
// ErrProviderUnavailable.
type Unavailable struct{}

func (Unavailable) Synthesize(context.Context, string) ([]byte, error) {
	return nil, ErrProviderUnavailable
}
