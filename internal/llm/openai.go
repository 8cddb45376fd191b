package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ppiankov/micr/internal/model"
)

// OpenAIProvider implements the Provider interface for OpenAI vision models.
// It is the only provider that reliably returns token logprobs.
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, eris.New("llm: OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(config, 60*time.Second)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	if _, err := p.client.ListModels(ctx); err != nil {
		zap.L().Warn("llm: OpenAI availability check failed", zap.Error(err))
		return false
	}
	return true
}

// Extract sends the image and prompt to the Chat Completions API with logprobs enabled
func (p *OpenAIProvider) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = p.config.Model
	}
	if modelName == "" {
		modelName = openai.GPT4o
	}

	detail := openai.ImageURLDetail(p.config.ImageDetail)
	if detail == "" {
		detail = openai.ImageURLDetailHigh
	}

	chatReq := openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: p.config.prompt(req),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    req.Image.DataURL(),
							Detail: detail,
						},
					},
				},
			},
		},
		MaxTokens:   p.config.maxTokens(req),
		Temperature: float32(p.config.Temperature),
		LogProbs:    true,
		TopLogProbs: clampTopLogprobs(p.config.TopLogprobs),
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, eris.Wrap(err, "llm: OpenAI chat completion")
	}

	out, err := fromChatCompletion(resp)
	if err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = modelName
	}
	if !out.HasLogprobs() {
		zap.L().Warn("llm: OpenAI response has no logprobs", zap.String("model", out.Model))
	}

	return out, nil
}

// fromChatCompletion maps the first choice of a chat completion
func fromChatCompletion(resp openai.ChatCompletionResponse) (*ExtractResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, eris.New("llm: no choices in OpenAI response")
	}

	choice := resp.Choices[0]
	out := &ExtractResponse{
		Content:    strings.TrimSpace(choice.Message.Content),
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}

	if choice.LogProbs != nil {
		out.Tokens = make([]model.TokenLogprob, 0, len(choice.LogProbs.Content))
		for _, lp := range choice.LogProbs.Content {
			out.Tokens = append(out.Tokens, model.TokenLogprob{
				Token:   lp.Token,
				Logprob: lp.LogProb,
			})
		}
	}

	return out, nil
}

// clampTopLogprobs keeps the request within the API's 0-5 range
func clampTopLogprobs(n int) int {
	if n < 0 {
		return 0
	}
	if n > 5 {
		return 5
	}
	return n
}
