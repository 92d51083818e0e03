package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/voc-classifier/internal/config"
	"github.com/sells-group/voc-classifier/internal/resilience"
	"github.com/sells-group/voc-classifier/pkg/anthropic"
)

// New builds the configured provider wrapped as
// Breaker(Retrying(Limited(provider))). burst is usually the batch
// concurrency.
func New(ctx context.Context, cfg config.LLMConfig, burst int) (Completer, error) {
	var provider Completer
	switch cfg.Provider {
	case "anthropic", "":
		// Retries happen in Retrying so the breaker sees one outcome per call.
		provider = NewAnthropic(anthropic.NewClient(cfg.AnthropicKey, anthropic.WithMaxRetries(0)), cfg.Model)
	case "openai":
		provider = NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.Model, nil)
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiKey, cfg.Model, "")
		if err != nil {
			return nil, err
		}
		provider = g
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	var c Completer = provider
	if cfg.RequestsPerSecond > 0 {
		c = NewLimited(c, cfg.RequestsPerSecond, burst)
	}
	c = NewRetrying(c, resilience.FromRetryConfig(cfg.RetryAttempts+1, cfg.RetryBackoffMs))
	c = NewBreaker(c, resilience.FromCircuitConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs))
	return c, nil
}

// RequestFromConfig returns the per-call settings from cfg.
func RequestFromConfig(cfg config.LLMConfig) Request {
	return Request{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     time.Duration(cfg.TimeoutSecs) * time.Second,
	}
}
