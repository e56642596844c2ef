// Package notify forwards escalations to people outside the session.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/teslashibe/go-attention/internal/httpc"
	"github.com/teslashibe/go-attention/pkg/escalation"
)

var (
	ErrNoToken   = errors.New("notify: slack token required")
	ErrNoChannel = errors.New("notify: slack channel required")
)

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	Token    string
	Channel  string
	MinLevel escalation.Level // notify at this level and above
	Timeout  time.Duration
	APIURL   string // override for tests
}

// DefaultSlackConfig notifies on the terminal level only.
func DefaultSlackConfig() SlackConfig {
	return SlackConfig{
		MinLevel: escalation.MaxLevel,
		Timeout:  10 * time.Second,
	}
}

// Slack posts escalations to a channel. Register Handle with
// Engine.Subscribe.
type Slack struct {
	cfg    SlackConfig
	api    *slack.Client
	logger *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	posted int
	failed int
}

// NewSlack creates a notifier. logger may be nil.
func NewSlack(cfg SlackConfig, logger *slog.Logger) (*Slack, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	if cfg.Channel == "" {
		return nil, ErrNoChannel
	}
	def := DefaultSlackConfig()
	if cfg.MinLevel <= escalation.LevelNone || cfg.MinLevel > escalation.MaxLevel {
		cfg.MinLevel = def.MinLevel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []slack.Option{slack.OptionHTTPClient(httpc.New(cfg.Timeout))}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}

	return &Slack{
		cfg:    cfg,
		api:    slack.New(cfg.Token, opts...),
		logger: logger.With("component", "notify.slack"),
	}, nil
}

// Handle posts qualifying escalations in the background so the engine
// never waits on Slack.
func (s *Slack) Handle(ev escalation.Event) {
	if !s.wants(ev) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if err := s.Notify(ctx, ev); err != nil {
			s.logger.Warn("slack post failed", "error", err, "level", ev.Snapshot.Level)
		}
	}()
}

func (s *Slack) wants(ev escalation.Event) bool {
	return ev.Type == escalation.EventEscalated && ev.Snapshot.Level >= s.cfg.MinLevel
}

// Notify posts one escalation synchronously.
func (s *Slack) Notify(ctx context.Context, ev escalation.Event) error {
	text, blocks := s.render(ev)
	_, _, err := s.api.PostMessageContext(ctx, s.cfg.Channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)

	s.mu.Lock()
	if err != nil {
		s.failed++
	} else {
		s.posted++
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("notify: post to %s: %w", s.cfg.Channel, err)
	}
	s.logger.Info("escalation posted", "level", ev.Snapshot.Level, "session_id", ev.Snapshot.SessionID)
	return nil
}

func (s *Slack) render(ev escalation.Event) (string, []slack.Block) {
	snap := ev.Snapshot
	text := fmt.Sprintf("Attention alert (%s): %s", snap.Level, snap.PendingMessage)

	details := fmt.Sprintf("*Session:* %s\n*Distractions:* %d", snap.SessionID, snap.Stats.DistractionCount)
	if snap.DistractionStart != nil {
		details += fmt.Sprintf("\n*Distracted for:* %s", ev.At.Sub(*snap.DistractionStart).Round(time.Second))
	}
	if snap.Cause != "" {
		details += fmt.Sprintf("\n*Cause:* %s", snap.Cause)
	}
	if ev.Fallback {
		details += "\n_Generated message unavailable; fallback text shown._"
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, fmt.Sprintf("Attention alert: level %d", snap.Level), false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "> "+snap.PendingMessage, false, false),
			nil, nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, details, false, false),
			nil, nil,
		),
	}
	return text, blocks
}

// Wait blocks until background posts finish.
func (s *Slack) Wait() {
	s.wg.Wait()
}

// Counts returns how many posts succeeded and failed.
func (s *Slack) Counts() (posted, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted, s.failed
}
