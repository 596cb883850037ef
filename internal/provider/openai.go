package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"gtdbot/internal/domain"
)

// OpenAIConfig configures an OpenAI-compatible chat provider.
type OpenAIConfig struct {
	Name            string // registry name, defaults to "openai"
	APIKey          string
	APIBase         string // e.g. "https://api.openai.com/v1" or any compatible endpoint
	Model           string
	RateLimitPerMin int
	Timeout         time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// OpenAIProvider talks to the chat completions API through go-openai.
type OpenAIProvider struct {
	name    string
	model   string
	client  *openai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.APIBase
	oc.HTTPClient = cfg.HTTPClient

	return &OpenAIProvider{
		name:    cfg.Name,
		model:   cfg.Model,
		client:  openai.NewClientWithConfig(oc),
		limiter: newLimiter(cfg.RateLimitPerMin),
		logger:  cfg.Logger,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", p.name, err)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if req.JSONMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, p.logger, func() error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, creq)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", p.name)
	}

	p.logger.Debug("chat completion",
		"provider", p.name,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
	)

	return &domain.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}, nil
}

func (p *OpenAIProvider) Healthy(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}
