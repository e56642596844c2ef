package inference

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const providerAnthropic = "anthropic"

// Anthropic generates text through the Messages API. Image input is not
// wired, so it only serves chat.
type Anthropic struct {
	client anthropic.Client
	config *Config
	logger *slog.Logger
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(opts ...Option) (*Anthropic, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	cfg.Model = "claude-3-5-haiku-latest"
	cfg.VisionModel = ""
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerAnthropic, ErrNoAPIKey)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.httpClient()),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}

	return &Anthropic{
		client: anthropic.NewClient(reqOpts...),
		config: cfg,
		logger: cfg.Logger.With("component", "inference.anthropic"),
	}, nil
}

// Chat sends the conversation to the Messages API.
func (a *Anthropic) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	system, msgs := splitSystem(req.System, req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(a.config.maxTokens(req.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if t := a.config.temperature(req.Temperature); t > 0 {
		params.Temperature = anthropic.Float(t)
	}
	for _, m := range msgs {
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.mapError(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, WrapError(providerAnthropic, ErrEmptyResponse)
	}

	usage := Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &ChatResponse{
		Message:      NewAssistantMessage(text),
		FinishReason: string(message.StopReason),
		Usage:        usage,
		Model:        string(message.Model),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// Vision is not supported.
func (a *Anthropic) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	return nil, WrapError(providerAnthropic, ErrVisionNotSupported)
}

// Capabilities returns Anthropic's capabilities.
func (a *Anthropic) Capabilities() Capabilities {
	return Capabilities{Chat: true}
}

// Health sends a one-token request.
func (a *Anthropic) Health(ctx context.Context) error {
	_, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return a.mapError(err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources of its own.
func (a *Anthropic) Close() error {
	return nil
}

func (a *Anthropic) mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			Provider:   providerAnthropic,
		}
	}
	return WrapError(providerAnthropic, err)
}

var _ Provider = (*Anthropic)(nil)
