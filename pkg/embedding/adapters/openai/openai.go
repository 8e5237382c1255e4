// Package openai implements embedding.Provider using the OpenAI API.
package openai

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/mindsim/layermem/pkg/embedding"
	"github.com/mindsim/layermem/pkg/log"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// Config holds the configuration for the OpenAI provider.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// EmbeddingModel is the model to use, e.g. "text-embedding-3-small".
	EmbeddingModel string
	// Dimensions is the dimensionality of the model's output.
	Dimensions int
	// BaseURL overrides the API endpoint (for testing).
	BaseURL string
}

// Provider implements embedding.Provider against the OpenAI embeddings API.
type Provider struct {
	client *openai.Client
	model  string
	dims   int
}

// NewProvider creates a new OpenAI embedding provider.
func NewProvider(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = "text-embedding-3-small"
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 1536
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.EmbeddingModel,
		dims:   config.Dimensions,
	}, nil
}

// Embed returns the embedding for a single text.
func (p *Provider) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return embedding.Vector{}, err
	}
	if len(vectors) == 0 {
		return embedding.Vector{}, errors.New("no embedding returned")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for the given texts in one API call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if len(texts) == 0 {
		return []embedding.Vector{}, nil
	}

	log.Debug("Generating embeddings", "count", len(texts), "model", p.model)

	request := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}

	response, err := p.client.CreateEmbeddings(ctx, request)
	if err != nil {
		log.Error("Failed to generate embeddings", "error", err)
		return nil, err
	}

	vectors := make([]embedding.Vector, len(response.Data))
	for i, data := range response.Data {
		vectors[i] = embedding.New(data.Embedding)
	}

	log.Debug("Successfully generated embeddings",
		"count", len(vectors),
		"model", p.model)

	return vectors, nil
}

// Dimensions returns the declared embedding size.
func (p *Provider) Dimensions() int {
	return p.dims
}
