// Package intervention writes the text shown to a distracted user when the
// escalation ladder climbs. It implements escalation.MessageGenerator on top
// of any inference.Provider.
package intervention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/inference"
)

// ErrInvalidMessage is returned when the model output is unusable.
var ErrInvalidMessage = errors.New("intervention: invalid message")

// Config controls generation.
type Config struct {
	Model       string // empty uses the provider default
	MaxTokens   int
	Temperature float64
	MaxLength   int // in runes
}

// DefaultConfig returns the generation defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   120,
		Temperature: 0.9,
		MaxLength:   500,
	}
}

// Generator produces one intervention message per escalation.
type Generator struct {
	provider inference.Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates a generator. logger may be nil.
func New(provider inference.Provider, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "intervention.generator"),
	}
}

// Generate asks the provider for a message matching the level's tone.
// The caller bounds the call through ctx.
func (g *Generator) Generate(ctx context.Context, req escalation.MessageRequest) (string, error) {
	resp, err := g.provider.Chat(ctx, &inference.ChatRequest{
		System:      systemPrompt,
		Messages:    []inference.Message{inference.NewUserMessage(BuildPrompt(req))},
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("intervention: generate level %d: %w", req.Level, err)
	}

	msg, err := Clean(resp.Message.Content, g.cfg.MaxLength)
	if err != nil {
		return "", err
	}

	g.logger.Debug("message generated",
		"level", req.Level,
		"cause", req.Cause,
		"latency_ms", resp.LatencyMs,
	)
	return msg, nil
}

const systemPrompt = `You are a blunt but caring focus coach watching someone work at their computer.
When they get distracted you speak to them directly in one short message.
Reply with the message text only: no quotes, no preamble, no emoji, no markdown.`

// BuildPrompt describes the escalation and the tone the level calls for.
func BuildPrompt(req escalation.MessageRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "The user has been %s for %d seconds.", describeCause(req.Cause), int(req.DistractionDuration.Seconds()))
	if req.DistractionCount > 1 {
		fmt.Fprintf(&sb, " This is distraction number %d in this session.", req.DistractionCount)
	}
	sb.WriteString("\n\n")

	switch {
	case req.Level <= escalation.LevelNudge:
		sb.WriteString("Write a light, friendly nudge of at most one sentence to bring their attention back.")
	case req.Level == escalation.LevelWarning:
		fmt.Fprintf(&sb, "Write a firmer warning of one or two sentences. Point out that they have drifted %d times so far.", max(req.DistractionCount, 1))
	default:
		sb.WriteString("Write a maximally dramatic final intervention of two or three sentences. Be theatrical and urgent; they must stop and get back to work right now.")
	}
	return sb.String()
}

func describeCause(c attention.Cause) string {
	switch c {
	case attention.CausePhoneUse:
		return "looking at their phone"
	case attention.CauseLookingAway:
		return "looking away from the screen"
	case attention.CauseEyesClosed:
		return "sitting with their eyes closed"
	case attention.CauseAwayFromDesk:
		return "away from the desk"
	default:
		return "distracted"
	}
}

// Clean normalizes model output and rejects text that is empty or longer
// than maxLen runes. A non-positive maxLen disables the length check.
func Clean(text string, maxLen int) (string, error) {
	s := strings.TrimSpace(text)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"`", "`"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			s = strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	s = strings.Join(strings.Fields(s), " ")

	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMessage)
	}
	if maxLen > 0 && utf8.RuneCountInString(s) > maxLen {
		return "", fmt.Errorf("%w: %d runes exceeds %d", ErrInvalidMessage, utf8.RuneCountInString(s), maxLen)
	}
	return s, nil
}

var _ escalation.MessageGenerator = (*Generator)(nil)
