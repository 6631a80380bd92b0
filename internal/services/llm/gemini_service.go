package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

// GeminiService analyzes flyers and generates event embeddings with Google Gemini.
type GeminiService struct {
	config    *common.GeminiConfig
	embed     *common.EmbeddingConfig
	logger    arbor.ILogger
	client    *genai.Client
	timeout   time.Duration
	retry     *RetryConfig
	dimension int
}

var (
	_ interfaces.FlyerAnalyzer    = (*GeminiService)(nil)
	_ interfaces.EmbeddingService = (*GeminiService)(nil)
)

// flyerSchema constrains Gemini output to the FlyerAnalysis shape
var flyerSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"isEventFlyer": {Type: genai.TypeBoolean, Description: "Whether the image advertises an event"},
		"events": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"title":       {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"startDate":   {Type: genai.TypeString, Description: "YYYY-MM-DD"},
					"startTime":   {Type: genai.TypeString, Description: "HH:MM, 24 hour"},
					"endDate":     {Type: genai.TypeString, Description: "YYYY-MM-DD"},
					"endTime":     {Type: genai.TypeString, Description: "HH:MM, 24 hour"},
					"venue":       {Type: genai.TypeString},
					"address":     {Type: genai.TypeString},
					"category":    {Type: genai.TypeString},
				},
				Required: []string{"title", "startDate"},
			},
		},
	},
	Required: []string{"isEventFlyer", "events"},
}

// NewGeminiService creates a Gemini-backed analyzer and embedding service.
// An empty API key returns models.ErrServiceUnavailable.
func NewGeminiService(config *common.Config, logger arbor.ILogger) (*GeminiService, error) {
	if strings.TrimSpace(config.Gemini.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is not configured (set EVENTJOBS_GEMINI_API_KEY or gemini.api_key): %w", models.ErrServiceUnavailable)
	}

	if config.Gemini.Model == "" {
		config.Gemini.Model = "gemini-2.5-flash"
	}
	if config.Embeddings.Model == "" {
		config.Embeddings.Model = "gemini-embedding-001"
	}
	dimension := config.Embeddings.Dimension
	if dimension <= 0 {
		dimension = 768
	}

	timeout, err := time.ParseDuration(config.Gemini.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Gemini.Timeout, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Info().
		Str("model", config.Gemini.Model).
		Str("embed_model", config.Embeddings.Model).
		Int("embed_dimension", dimension).
		Str("timeout", timeout.String()).
		Msg("Gemini service initialized")

	return &GeminiService{
		config:    &config.Gemini,
		embed:     &config.Embeddings,
		logger:    logger,
		client:    client,
		timeout:   timeout,
		retry:     NewDefaultRetryConfig(),
		dimension: dimension,
	}, nil
}

// AnalyzeFlyer sends the image with the extraction prompt and parses the JSON reply
func (s *GeminiService) AnalyzeFlyer(ctx context.Context, image []byte, mimeType string, multi bool) (*models.FlyerAnalysis, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("image cannot be empty")
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(flyerPrompt(multi)),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(s.config.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   flyerSchema,
	}

	text, err := s.generate(ctx, contents, config)
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
		Msg("Gemini flyer analysis complete")

	return analysis, nil
}

// Summarize condenses civic page text to a short plain description
func (s *GeminiService) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(summarizePrompt, text), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(s.config.Temperature),
	}

	summary, err := s.generate(ctx, contents, config)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func (s *GeminiService) Provider() string {
	return string(common.LLMProviderGemini)
}

// GenerateEmbedding creates a vector embedding with the configured output dimensionality
func (s *GeminiService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outputDim := int32(s.dimension)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	result, err := withRetry(ctx, s.retry, s.logger, s.Provider(), func(ctx context.Context) (*genai.EmbedContentResponse, error) {
		return s.client.Models.EmbedContent(ctx, s.embed.Model, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, embeddingConfig)
	})
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if embedding == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(embedding))
	}

	return embedding, nil
}

func (s *GeminiService) ModelName() string {
	return s.embed.Model
}

func (s *GeminiService) Dimension() int {
	return s.dimension
}

// IsAvailable reports whether embeddings are enabled and the client exists
func (s *GeminiService) IsAvailable(ctx context.Context) bool {
	return s.client != nil && s.embed.Enabled
}

// generate runs one GenerateContent call under the service timeout with retries
func (s *GeminiService) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := withRetry(ctx, s.retry, s.logger, s.Provider(), func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return s.client.Models.GenerateContent(ctx, s.config.Model, contents, config)
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API call failed: %w", err)
	}

	// Try each candidate until one carries text
	var response strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini")
	}

	return response.String(), nil
}
