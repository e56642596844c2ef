package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/inference"
)

// FrameSource yields the most recent JPEG frame and its capture time.
type FrameSource interface {
	LatestFrame() (jpeg []byte, at time.Time, ok bool)
}

// VisionConfig controls the vision oracle.
type VisionConfig struct {
	Interval    time.Duration // time between assessments
	Timeout     time.Duration // bound on one model call
	MaxFrameAge time.Duration // older frames are not sent
	Model       string
}

// DefaultVisionConfig returns the vision oracle defaults.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		Interval:    5 * time.Second,
		Timeout:     8 * time.Second,
		MaxFrameAge: 3 * time.Second,
	}
}

const visionSystemPrompt = `You judge whether a person at a computer is paying attention to their work.
Answer with one JSON object and nothing else:
{"state": "focused" | "distracted" | "idle", "reason": "<short explanation>", "confidence": <0..1>, "cause": "phone_use" | "looking_away" | "eyes_closed" | "away_from_desk" | "generic" | ""}
Use "idle" when nobody is at the desk. Use "distracted" for phones, looking away, or sleeping.`

const visionPrompt = "Assess this webcam frame."

// VisionOracle periodically sends the latest frame to a vision model and
// stores the parsed verdict.
type VisionOracle struct {
	provider inference.Provider
	store    *Store
	cfg      VisionConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewVisionOracle creates a vision oracle writing into store.
func NewVisionOracle(provider inference.Provider, store *Store, cfg VisionConfig, logger *slog.Logger) *VisionOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionOracle{
		provider: provider,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With("component", "oracle.vision"),
	}
}

// Assess sends one frame to the model and offers the verdict to the store.
func (o *VisionOracle) Assess(ctx context.Context, jpeg []byte) (attention.OracleVerdict, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	resp, err := o.provider.Vision(ctx, &inference.VisionRequest{
		Image:       jpeg,
		Prompt:      visionPrompt,
		System:      visionSystemPrompt,
		Model:       o.cfg.Model,
		MaxTokens:   200,
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		return attention.OracleVerdict{}, fmt.Errorf("oracle: vision call: %w", err)
	}

	v, err := ParseVerdict(resp.Content)
	if err != nil {
		return attention.OracleVerdict{}, err
	}
	v.ReceivedAt = o.now()
	o.store.Offer(v)
	return v, nil
}

// Run assesses the newest frame every Interval until ctx is done. Frames
// already assessed or older than MaxFrameAge are skipped. Failures are
// logged; the classifier keeps running on local signal.
func (o *VisionOracle) Run(ctx context.Context, frames FrameSource) {
	interval := o.cfg.Interval
	if interval <= 0 {
		interval = DefaultVisionConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last time.Time
	o.logger.Info("vision oracle started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("vision oracle stopped")
			return
		case <-ticker.C:
			jpeg, at, ok := frames.LatestFrame()
			if !ok || !at.After(last) {
				continue
			}
			if o.cfg.MaxFrameAge > 0 && o.now().Sub(at) > o.cfg.MaxFrameAge {
				continue
			}
			last = at

			v, err := o.Assess(ctx, jpeg)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Warn("vision assessment failed", "error", err)
				continue
			}
			o.logger.Debug("vision assessment", "state", v.State, "confidence", v.Confidence)
		}
	}
}
