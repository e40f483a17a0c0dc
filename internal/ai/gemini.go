package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	appErr "github.com/xxxsen/qcache/internal/pkg/errors"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiEmbedProvider struct {
	apiKey string
	http   *http.Client

	once    sync.Once
	client  *genai.Client
	initErr error
}

func (p *geminiEmbedProvider) Name() string {
	return "gemini"
}

func (p *geminiEmbedProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     p.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: p.http,
		})
	})
	return p.client, p.initErr
}

func (p *geminiEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, appErr.ErrEmbeddingUnavailable
	}
	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, err
	}
	var config *genai.EmbedContentConfig
	if taskType != "" {
		config = &genai.EmbedContentConfig{
			TaskType: taskType,
		}
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}

func (p *geminiEmbedProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	return err
}

func createGeminiEmbedFactory(args ProviderArgs) (IEmbedProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args.Data, cfg); err != nil {
		return nil, err
	}
	return &geminiEmbedProvider{
		apiKey: strings.TrimSpace(cfg.APIKey),
		http:   httpClientOrDefault(args.HTTPClient),
	}, nil
}

func init() {
	Register("gemini", createGeminiEmbedFactory)
}
