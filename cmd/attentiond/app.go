package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-attention/internal/config"
	"github.com/teslashibe/go-attention/internal/log"
	"github.com/teslashibe/go-attention/pkg/cloud"
	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/inference"
	"github.com/teslashibe/go-attention/pkg/intervention"
	"github.com/teslashibe/go-attention/pkg/monitor"
	"github.com/teslashibe/go-attention/pkg/notify"
	"github.com/teslashibe/go-attention/pkg/oracle"
	"github.com/teslashibe/go-attention/pkg/web"
)

var errNoVisionKey = errors.New("vision oracle needs GOOGLE_API_KEY or OPENAI_API_KEY")

// app holds the wired service.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	engine  *escalation.Engine
	store   *oracle.Store
	monitor *monitor.Monitor
	server  *web.Server
	ingest  *cloud.Ingest

	vision *oracle.VisionOracle
	mqtt   *oracle.MQTTSource
	slack  *notify.Slack

	unsubscribe []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: log.Component("attentiond")}

	gen, err := messageGenerator(cfg)
	if err != nil {
		// The engine falls back to static messages.
		a.logger.Warn("message generation disabled", "error", err)
	}

	a.engine = escalation.New(cfg.Escalation(), gen,
		escalation.WithLogger(log.L()),
	)
	a.store = oracle.NewStore(cfg.OracleStaleAfter(), oracle.WithLogger(log.L()))

	mcfg := monitor.DefaultConfig()
	mcfg.PollInterval = cfg.PollInterval()
	mcfg.ClassifyRate = cfg.ClassifyRate
	a.monitor = monitor.New(mcfg, a.engine, a.store, monitor.WithLogger(log.L()))

	a.ingest = cloud.NewIngest(a.monitor, log.L())
	a.server = web.NewServer(a.monitor,
		web.WithLogger(log.L()),
		web.WithBaseContext(ctx),
		web.WithMetrics(a.extraMetrics),
	)
	a.ingest.RegisterRoutes(a.server.App())
	a.ingest.RegisterAPIRoutes(a.server.App().Group("/api"))

	a.unsubscribe = append(a.unsubscribe,
		a.engine.Subscribe(a.server.Publish),
		a.engine.Subscribe(a.ingest.Publish),
		a.engine.Subscribe(a.logEvent),
	)

	switch cfg.OracleMode {
	case config.OracleVision:
		provider, err := visionProvider(cfg)
		if err != nil {
			return nil, err
		}
		vcfg := oracle.DefaultVisionConfig()
		vcfg.Interval = cfg.OracleInterval()
		a.vision = oracle.NewVisionOracle(provider, a.store, vcfg, log.L())
	case config.OracleMQTT:
		a.mqtt = oracle.NewMQTTSource(oracle.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      1,
		}, a.store, log.L())
	}

	if cfg.SlackEnabled() {
		scfg := notify.DefaultSlackConfig()
		scfg.Token = cfg.SlackBotToken
		scfg.Channel = cfg.SlackChannelID
		a.slack, err = notify.NewSlack(scfg, log.L())
		if err != nil {
			return nil, err
		}
		a.unsubscribe = append(a.unsubscribe, a.engine.Subscribe(a.slack.Handle))
	}

	a.logger.Info("initialized",
		"llm_provider", cfg.LLMProvider,
		"oracle_mode", cfg.OracleMode,
		"slack", cfg.SlackEnabled(),
	)
	return a, nil
}

// Run serves until ctx is done.
func (a *app) Run(ctx context.Context) error {
	go a.ingest.RunRelay(ctx)

	if a.vision != nil {
		go a.vision.Run(ctx, a.monitor)
	}
	if a.mqtt != nil {
		// ErrMQTTPending means the client keeps retrying in the background.
		if err := a.mqtt.Start(ctx); err != nil {
			a.logger.Warn("mqtt oracle not connected", "error", err)
		}
	}

	a.logger.Info("serving",
		"status", fmt.Sprintf("http://localhost:%s/api/status", a.cfg.Port),
		"capture", fmt.Sprintf("ws://localhost:%s/ws/capture", a.cfg.Port),
	)
	return a.server.Start(ctx, ":"+a.cfg.Port)
}

// Shutdown ends any running session and releases connections.
func (a *app) Shutdown() {
	if stats, err := a.monitor.EndSession(); err == nil {
		a.logger.Info("session closed on shutdown",
			"distractions", stats.DistractionCount,
			"focused", stats.TotalFocusedTime,
			"distracted", stats.TotalDistractedTime,
		)
	}
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.slack != nil {
		a.slack.Wait()
	}
}

func (a *app) logEvent(ev escalation.Event) {
	switch ev.Type {
	case escalation.EventEscalated:
		a.logger.Info("escalated",
			"level", ev.Snapshot.Level,
			"cause", ev.Snapshot.Cause,
			"fallback", ev.Fallback,
			"message", ev.Snapshot.PendingMessage,
		)
	case escalation.EventReset, escalation.EventDismissed:
		a.logger.Info(string(ev.Type), "level", ev.Snapshot.Level)
	}
}

func (a *app) extraMetrics() string {
	stats := a.ingest.Stats()
	accepted, rejected := a.store.Counts()
	return fmt.Sprintf(`# HELP attention_captures Connected capture clients
# TYPE attention_captures gauge
attention_captures %d

# HELP attention_capture_messages_total Messages received from capture clients
# TYPE attention_capture_messages_total counter
attention_capture_messages_total %d

# HELP attention_capture_rejected_total Capture messages that could not be used
# TYPE attention_capture_rejected_total counter
attention_capture_rejected_total %d

# HELP attention_oracle_verdicts_total Oracle verdicts by outcome
# TYPE attention_oracle_verdicts_total counter
attention_oracle_verdicts_total{outcome="accepted"} %d
attention_oracle_verdicts_total{outcome="rejected"} %d
`, stats.Captures, stats.MessagesReceived, stats.Rejected, accepted, rejected)
}

// providerKey returns the API key configured for a provider kind.
func providerKey(cfg config.Config, kind string) string {
	switch kind {
	case inference.KindAnthropic:
		return cfg.AnthropicAPIKey
	case inference.KindOpenAI:
		return cfg.OpenAIAPIKey
	case inference.KindGemini:
		return cfg.GoogleAPIKey
	}
	return ""
}

func newProvider(cfg config.Config, kind string, model string) (inference.Provider, error) {
	opts := []inference.Option{
		inference.WithAPIKey(providerKey(cfg, kind)),
		inference.WithLogger(log.L()),
	}
	if model != "" {
		opts = append(opts, inference.WithModel(model))
	}
	if kind == inference.KindOpenAI && cfg.OpenAIBaseURL != "" {
		opts = append(opts, inference.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return inference.New(kind, opts...)
}

// messageGenerator builds the configured provider first, then any other
// provider with a key as fallback. It returns nil for llm_provider=none.
func messageGenerator(cfg config.Config) (escalation.MessageGenerator, error) {
	if cfg.LLMProvider == "none" {
		return nil, nil
	}

	primary, err := newProvider(cfg, cfg.LLMProvider, cfg.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", cfg.LLMProvider, err)
	}
	providers := []inference.Provider{primary}
	for _, kind := range []string{inference.KindAnthropic, inference.KindOpenAI, inference.KindGemini} {
		if kind == cfg.LLMProvider || providerKey(cfg, kind) == "" {
			continue
		}
		if p, err := newProvider(cfg, kind, ""); err == nil {
			providers = append(providers, p)
		}
	}

	var provider inference.Provider = primary
	if len(providers) > 1 {
		chain, err := inference.NewChainWithLogger(log.L(), providers...)
		if err != nil {
			return nil, err
		}
		provider = chain
	}

	return intervention.New(provider, intervention.DefaultConfig(), log.L()), nil
}

// visionProvider prefers Gemini and falls back to OpenAI when both keys
// are present.
func visionProvider(cfg config.Config) (inference.Provider, error) {
	var providers []inference.Provider
	for _, kind := range []string{inference.KindGemini, inference.KindOpenAI} {
		if providerKey(cfg, kind) == "" {
			continue
		}
		p, err := newProvider(cfg, kind, "")
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	switch len(providers) {
	case 0:
		return nil, errNoVisionKey
	case 1:
		return providers[0], nil
	default:
		return inference.NewChainWithLogger(log.L(), providers...)
	}
}
