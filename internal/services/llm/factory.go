package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// NewFlyerAnalyzer creates the analyzer for cfg.LLM.DefaultProvider.
// A provider without credentials returns an error wrapping models.ErrServiceUnavailable.
func NewFlyerAnalyzer(cfg *common.Config, logger arbor.ILogger) (interfaces.FlyerAnalyzer, error) {
	provider := cfg.LLM.DefaultProvider
	if provider == "" {
		provider = common.LLMProviderGemini
	}

	logger.Info().Str("provider", string(provider)).Msg("Initializing flyer analyzer")

	switch provider {
	case common.LLMProviderGemini:
		service, err := NewGeminiService(cfg, logger)
		if err != nil {
			return nil, err
		}
		return service, nil
	case common.LLMProviderClaude:
		service, err := NewClaudeService(&cfg.Claude, logger)
		if err != nil {
			return nil, err
		}
		return service, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (expected gemini or claude)", provider)
	}
}

// NewEmbeddingService returns the Gemini embedding service, or nil when
// embeddings are disabled or no Gemini key is configured. Event indexing
// is skipped when the service is nil.
func NewEmbeddingService(cfg *common.Config, logger arbor.ILogger) (interfaces.EmbeddingService, error) {
	if !cfg.Embeddings.Enabled {
		logger.Info().Msg("Event embeddings disabled")
		return nil, nil
	}

	service, err := NewGeminiService(cfg, logger)
	if err != nil {
		if errors.Is(err, models.ErrServiceUnavailable) {
			logger.Warn().Msg("Event embeddings unavailable: gemini api key is not configured")
			return nil, nil
		}
		return nil, err
	}
	return service, nil
}

// UnavailableAnalyzer stands in when no provider is configured so that flyer
// jobs fail with a service error instead of never being picked up.
type UnavailableAnalyzer struct {
	provider string
	reason   error
}

// NewUnavailableAnalyzer wraps the construction error of provider
func NewUnavailableAnalyzer(provider string, reason error) *UnavailableAnalyzer {
	return &UnavailableAnalyzer{provider: provider, reason: reason}
}

func (u *UnavailableAnalyzer) AnalyzeFlyer(ctx context.Context, image []byte, mimeType string, multi bool) (*models.FlyerAnalysis, error) {
	return nil, models.NewServiceError(u.err())
}

func (u *UnavailableAnalyzer) Summarize(ctx context.Context, text string) (string, error) {
	return "", models.NewServiceError(u.err())
}

func (u *UnavailableAnalyzer) Provider() string {
	return u.provider
}

func (u *UnavailableAnalyzer) err() error {
	if u.reason != nil {
		return u.reason
	}
	return models.ErrServiceUnavailable
}
