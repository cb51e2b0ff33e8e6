package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

const DefaultModel = "gemini-2.0-flash"

// Config selects the Gemini backend. With APIKey set the public Gemini API is
// used; otherwise Project and Location address Vertex AI.
type Config struct {
	APIKey          string
	Project         string
	Location        string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

type GeminiClient struct {
	client    *genai.Client
	modelName string
	cfg       Config
}

// NewGeminiClient creates a domain.CompletionClient backed by Gemini.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "" && cfg.Location != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, errors.New("gemini: an API key or a Vertex project and location are required")
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 8192
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		modelName: cfg.Model,
		cfg:       cfg,
	}, nil
}

// Complete implements domain.CompletionClient.
func (g *GeminiClient) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	p := BuildPrompt(req)
	if len(p.Contents) == 0 {
		return "", domain.ErrEmptyMessage
	}

	temp := g.cfg.Temperature
	gc := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	}
	if p.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, p.Contents, gc)
	if err != nil {
		return "", domain.NewNetworkError("gemini", "generate content", err)
	}

	text := res.Text()
	if text == "" {
		return "", domain.NewNetworkError("gemini", "generate content", errors.New("empty reply"))
	}
	return text, nil
}
