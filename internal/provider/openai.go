package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Default base URLs for OpenAI-compatible backends.
const (
	openAIBaseURL   = "https://api.openai.com/v1"
	deepSeekBaseURL = "https://api.deepseek.com"
	ollamaBaseURL   = "http://localhost:11434/v1"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat APIs. It also
// serves DeepSeek and Ollama, which speak the same protocol.
type OpenAIProvider struct {
	config ProviderConfig
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		switch cfg.Type {
		case "deepseek":
			cfg.Endpoint = deepSeekBaseURL
		case "ollama":
			cfg.Endpoint = ollamaBaseURL
		default:
			cfg.Endpoint = openAIBaseURL
		}
	}
	if cfg.Model == "" {
		switch cfg.Type {
		case "deepseek":
			cfg.Model = "deepseek-chat"
		case "ollama":
			cfg.Model = "llama3"
		default:
			cfg.Model = "gpt-4o-mini"
		}
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.Endpoint
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIProvider{
		config: cfg,
		client: openai.NewClientWithConfig(oc),
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string   { return p.config.ID }
func (p *OpenAIProvider) Name() string { return p.config.Name }

// Chat sends a non-streaming chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from provider")
	}

	choice := resp.Choices[0]
	p.logger.Debug("chat completion",
		zap.String("provider", p.config.ID),
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// HealthCheck verifies the provider is reachable by listing models.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	return err
}
