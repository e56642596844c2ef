// Package inference puts chat and vision model calls behind one Provider
// interface.
//
// Three backends are provided: Client for any OpenAI-compatible endpoint,
// Gemini for Google's generateContent API, and Anthropic for the Messages
// API. Chain tries several providers in order.
//
//	p, _ := inference.NewGemini(inference.WithAPIKey(key))
//	defer p.Close()
//
//	resp, _ := p.Vision(ctx, &inference.VisionRequest{
//	    Image:  jpegBytes,
//	    Prompt: "Is the person looking at the screen?",
//	    JSON:   true,
//	})
package inference

import (
	"context"
	"fmt"
)

// Provider is the unified inference interface.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Vision analyzes a JPEG image with a text prompt.
	Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// Health checks connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Capabilities describes what features a provider supports.
type Capabilities struct {
	Chat   bool
	Vision bool
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// System is the system instruction, sent in whatever form the backend expects.
	System string

	Messages []Message

	// Model overrides the default model.
	Model string

	MaxTokens   int
	Temperature float64
}

// ChatResponse from a chat completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// Text returns the trimmed assistant text.
func (r *ChatResponse) Text() string {
	if r == nil {
		return ""
	}
	return trimText(r.Message.Content)
}

// VisionRequest for single-image analysis.
type VisionRequest struct {
	// Image is JPEG-encoded.
	Image []byte

	Prompt string
	System string

	// Model overrides the default vision model.
	Model string

	MaxTokens   int
	Temperature float64

	// JSON asks the backend to constrain output to a JSON object where supported.
	JSON bool
}

// VisionResponse from image analysis.
type VisionResponse struct {
	Content   string
	Usage     Usage
	Model     string
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider names accepted by New.
const (
	KindOpenAI    = "openai"
	KindGemini    = "gemini"
	KindAnthropic = "anthropic"
)

// New builds a provider by name.
func New(kind string, opts ...Option) (Provider, error) {
	switch kind {
	case KindOpenAI, "":
		return NewClient(opts...)
	case KindGemini:
		return NewGemini(opts...)
	case KindAnthropic:
		return NewAnthropic(opts...)
	default:
		return nil, fmt.Errorf("inference: unknown provider %q", kind)
	}
}
