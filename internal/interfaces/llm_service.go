package interfaces

import (
	"context"

	"github.com/ternarybob/eventjobs/internal/models"
)

// FlyerAnalyzer extracts event details from a flyer image
type FlyerAnalyzer interface {
	// AnalyzeFlyer inspects one image. multi requests every event on the image rather than the primary one.
	AnalyzeFlyer(ctx context.Context, image []byte, mimeType string, multi bool) (*models.FlyerAnalysis, error)

	// Summarize condenses free text (civic pages) to a short description
	Summarize(ctx context.Context, text string) (string, error)

	Provider() string
}

// EmbeddingService turns event text into vectors for search indexing
type EmbeddingService interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	ModelName() string
	Dimension() int
	IsAvailable(ctx context.Context) bool
}
