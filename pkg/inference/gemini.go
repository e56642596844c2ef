package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const providerGemini = "gemini"

// Gemini calls Google's generateContent API directly; its request format
// differs from the OpenAI one.
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Model = "gemini-2.0-flash"
	cfg.VisionModel = "gemini-2.0-flash"
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	return &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   cfg.httpClient(),
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Chat generates a completion. System turns become the system instruction.
func (g *Gemini) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	system, msgs := splitSystem(req.System, req.Messages)
	payload := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.config.temperature(req.Temperature),
			MaxOutputTokens: g.config.maxTokens(req.MaxTokens),
		},
	}
	if system != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	for _, m := range msgs {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		payload.Contents = append(payload.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	text, finish, usage, err := g.generate(ctx, model, payload)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		Message:      NewAssistantMessage(text),
		FinishReason: finish,
		Usage:        usage,
		Model:        model,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// Vision analyzes a JPEG image. JSON requests set the response MIME type.
func (g *Gemini) Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error) {
	if len(req.Image) == 0 {
		return nil, WrapError(providerGemini, ErrNoImage)
	}
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.config.VisionModel
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: req.Prompt},
				{InlineData: &geminiBlob{
					MimeType: "image/jpeg",
					Data:     base64.StdEncoding.EncodeToString(req.Image),
				}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.config.temperature(req.Temperature),
			MaxOutputTokens: g.config.maxTokens(req.MaxTokens),
		},
	}
	if s := strings.TrimSpace(req.System); s != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: s}}}
	}
	if req.JSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}

	text, _, usage, err := g.generate(ctx, model, payload)
	if err != nil {
		return nil, err
	}

	return &VisionResponse{
		Content:   text,
		Usage:     usage,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Capabilities returns Gemini's capabilities.
func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{Chat: true, Vision: true}
}

// Health fetches the configured model's metadata.
func (g *Gemini) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s", strings.TrimSuffix(g.config.BaseURL, "/"), g.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapError(providerGemini, err)
	}
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return WrapError(providerGemini, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.parseError(resp)
	}
	return nil
}

// Close releases idle connections.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

func (g *Gemini) generate(ctx context.Context, model string, payload geminiRequest) (string, string, Usage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", Usage{}, WrapError(providerGemini, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(g.config.BaseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", Usage{}, WrapError(providerGemini, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return "", "", Usage{}, WrapError(providerGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", Usage{}, g.parseError(resp)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", Usage{}, WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
	}

	usage := Usage{
		PromptTokens:     result.UsageMetadata.PromptTokenCount,
		CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      result.UsageMetadata.TotalTokenCount,
	}

	if len(result.Candidates) == 0 {
		return "", "", usage, WrapError(providerGemini, ErrEmptyResponse)
	}
	cand := result.Candidates[0]

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", cand.FinishReason, usage, WrapError(providerGemini, ErrEmptyResponse)
	}

	g.logger.Debug("generate complete",
		"model", model,
		"finish", cand.FinishReason,
		"tokens", usage.TotalTokens,
	)
	return text, cand.FinishReason, usage, nil
}

func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Provider:   providerGemini,
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Code = errResp.Error.Status
	}
	return apiErr
}

// Wire types

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inline_data,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

var _ Provider = (*Gemini)(nil)
