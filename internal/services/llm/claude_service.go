package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// claudeImageTypes are the media types the Messages API accepts for image blocks
var claudeImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ClaudeService implements FlyerAnalyzer using the Anthropic Messages API.
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    anthropic.Client
	timeout   time.Duration
	maxTokens int
	retry     *RetryConfig
}

var _ interfaces.FlyerAnalyzer = (*ClaudeService)(nil)

// NewClaudeService creates a Claude-backed flyer analyzer.
// An empty API key returns models.ErrServiceUnavailable.
func NewClaudeService(claudeConfig *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if strings.TrimSpace(claudeConfig.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is not configured (set ANTHROPIC_API_KEY, EVENTJOBS_CLAUDE_API_KEY or claude.api_key): %w", models.ErrServiceUnavailable)
	}

	if claudeConfig.Model == "" {
		claudeConfig.Model = "claude-haiku-4-5"
	}

	timeout, err := time.ParseDuration(claudeConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", claudeConfig.Timeout, err)
	}

	maxTokens := claudeConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	client := anthropic.NewClient(
		option.WithAPIKey(claudeConfig.APIKey),
	)

	logger.Debug().
		Str("model", claudeConfig.Model).
		Str("timeout", timeout.String()).
		Float32("temperature", claudeConfig.Temperature).
		Int("max_tokens", maxTokens).
		Msg("Claude service initialized")

	return &ClaudeService{
		config:    claudeConfig,
		logger:    logger,
		client:    client,
		timeout:   timeout,
		maxTokens: maxTokens,
		retry:     NewDefaultRetryConfig(),
	}, nil
}

// AnalyzeFlyer sends the image as a base64 block followed by the extraction prompt
func (s *ClaudeService) AnalyzeFlyer(ctx context.Context, image []byte, mimeType string, multi bool) (*models.FlyerAnalysis, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("image cannot be empty")
	}
	if !claudeImageTypes[mimeType] {
		return nil, fmt.Errorf("claude does not accept %s images", mimeType)
	}

	message := anthropic.NewUserMessage(
		anthropic.NewImageBlockBase64(mimeType, base64.StdEncoding.EncodeToString(image)),
		anthropic.NewTextBlock(flyerPrompt(multi)),
	)

	text, err := s.complete(ctx, []anthropic.MessageParam{message})
	if err != nil {
		return nil, err
	}

	analysis, err := parseFlyerAnalysis(text, multi)
	if err != nil {
		return nil, err
	}
	analysis.Provider = s.Provider()

	s.logger.Debug().
		Bool("is_event_flyer", analysis.IsEventFlyer).
		Int("events", len(analysis.Events)).
		Bool("multi", multi).
		Msg("Claude flyer analysis complete")

	return analysis, nil
}

// Summarize condenses civic page text to a short plain description
func (s *ClaudeService) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	message := anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(summarizePrompt, text)))
	summary, err := s.complete(ctx, []anthropic.MessageParam{message})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func (s *ClaudeService) Provider() string {
	return string(common.LLMProviderClaude)
}

func (s *ClaudeService) complete(ctx context.Context, messages []anthropic.MessageParam) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: int64(s.maxTokens),
		Messages:  messages,
	}
	if s.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(s.config.Temperature))
	}

	resp, err := withRetry(ctx, s.retry, s.logger, s.Provider(), func(ctx context.Context) (*anthropic.Message, error) {
		return s.client.Messages.New(ctx, params)
	})
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	return response.String(), nil
}
