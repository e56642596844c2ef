// Package monitor runs one attention session: it keeps the latest face mesh,
// frame and oracle verdict, classifies on its own cadence, and ticks the
// escalation engine on a fixed poll interval.
//
// The two loops share nothing but the latest classifier result. Inputs only
// ever overwrite latest-value slots; there are no queues to back up.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/oracle"
	"github.com/teslashibe/go-attention/pkg/pose"
)

// ErrSessionActive is returned by StartSession while a session is running.
var ErrSessionActive = errors.New("monitor: session already active")

// Config holds the runtime cadence.
type Config struct {
	PollInterval time.Duration // escalation tick
	ClassifyRate float64       // max classifications per second
	IdleClassify time.Duration // classify at least this often without new frames
	FrameTTL     time.Duration // older landmarks count as no face
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		ClassifyRate: 10,
		IdleClassify: time.Second,
		FrameTTL:     2 * time.Second,
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces time.Now for observation timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l.With("component", "monitor") }
}

// WithClassifier replaces the default-threshold classifier.
func WithClassifier(c attention.Classifier) Option {
	return func(m *Monitor) { m.classifier = c }
}

type observation struct {
	points     []pose.Point
	confidence float64
	at         time.Time
}

// Monitor owns the session loops.
type Monitor struct {
	cfg        Config
	classifier attention.Classifier
	engine     *escalation.Engine
	oracle     *oracle.Store
	limiter    *rate.Limiter
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.RWMutex
	obs      *observation
	frame    []byte
	frameAt  time.Time
	result   attention.Result
	resultAt time.Time

	wake chan struct{}

	runMu     sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	sessionID string

	frames          atomic.Uint64
	classifications atomic.Uint64
	ticks           atomic.Uint64
}

// New creates a monitor around an engine and a verdict store.
func New(cfg Config, engine *escalation.Engine, store *oracle.Store, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ClassifyRate <= 0 {
		cfg.ClassifyRate = def.ClassifyRate
	}
	if cfg.IdleClassify <= 0 {
		cfg.IdleClassify = def.IdleClassify
	}
	if cfg.FrameTTL <= 0 {
		cfg.FrameTTL = def.FrameTTL
	}

	m := &Monitor{
		cfg:        cfg,
		classifier: attention.NewClassifier(attention.DefaultThresholds()),
		engine:     engine,
		oracle:     store,
		limiter:    rate.NewLimiter(rate.Limit(cfg.ClassifyRate), 1),
		now:        time.Now,
		logger:     slog.Default().With("component", "monitor"),
		result:     attention.Result{State: attention.Unknown, Reason: "no observation yet", Source: attention.SourceLocal},
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Engine returns the escalation engine.
func (m *Monitor) Engine() *escalation.Engine { return m.engine }

// Oracle returns the verdict store.
func (m *Monitor) Oracle() *oracle.Store { return m.oracle }

// SubmitLandmarks records the face mesh of the newest frame. An empty slice
// means the capture side found no face.
func (m *Monitor) SubmitLandmarks(points []pose.Point, confidence float64) {
	m.mu.Lock()
	m.obs = &observation{points: points, confidence: confidence, at: m.now()}
	m.mu.Unlock()
	m.frames.Add(1)

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// SubmitFrame records the newest JPEG frame for the vision oracle.
func (m *Monitor) SubmitFrame(jpeg []byte) {
	m.mu.Lock()
	m.frame = jpeg
	m.frameAt = m.now()
	m.mu.Unlock()
}

// LatestFrame implements oracle.FrameSource.
func (m *Monitor) LatestFrame() ([]byte, time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame, m.frameAt, m.frame != nil
}

// OfferVerdict hands an oracle verdict to the store.
func (m *Monitor) OfferVerdict(v attention.OracleVerdict) bool {
	if m.oracle == nil {
		return false
	}
	return m.oracle.Offer(v)
}

// input builds the classifier input from the latest observation.
func (m *Monitor) input() attention.Input {
	m.mu.RLock()
	obs := m.obs
	m.mu.RUnlock()

	var in attention.Input
	if m.oracle != nil {
		in.Oracle = m.oracle.Latest()
	}
	if obs == nil || len(obs.points) == 0 || m.now().Sub(obs.at) > m.cfg.FrameTTL {
		return in
	}

	in.FaceDetected = true
	in.Confidence = obs.confidence
	in.EyesOpen = pose.EyesOpen(obs.points)
	if hp, ok := pose.Estimate(obs.points); ok {
		in.HeadPose = &hp
	}
	return in
}

// ClassifyOnce classifies the latest inputs and stores the result.
func (m *Monitor) ClassifyOnce() attention.Result {
	r := m.classifier.Classify(m.input())

	m.mu.Lock()
	prev := m.result.State
	m.result = r
	m.resultAt = m.now()
	m.mu.Unlock()
	m.classifications.Add(1)

	if prev != r.State {
		m.logger.Debug("attention changed",
			"from", prev,
			"to", r.State,
			"cause", r.Cause,
			"source", r.Source,
			"reason", r.Reason,
		)
	}
	return r
}

// Result returns the latest classifier result and when it was produced.
func (m *Monitor) Result() (attention.Result, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.result, m.resultAt
}

// PollOnce ticks the engine with the latest result.
func (m *Monitor) PollOnce(ctx context.Context) escalation.Snapshot {
	r, _ := m.Result()
	m.ticks.Add(1)
	return m.engine.Tick(ctx, r)
}

// Snapshot returns the engine state.
func (m *Monitor) Snapshot() escalation.Snapshot {
	return m.engine.Snapshot()
}

// Dismiss clears the pending message and returns the level it was shown at.
func (m *Monitor) Dismiss() (escalation.Level, error) {
	level, ok := m.engine.Dismiss()
	if !ok {
		return escalation.LevelNone, escalation.ErrNoSession
	}
	return level, nil
}

// ResetLadder returns the engine to level 0.
func (m *Monitor) ResetLadder() error {
	if !m.engine.ResetLadder() {
		return escalation.ErrNoSession
	}
	return nil
}

// SessionID returns the running session's ID, or "".
func (m *Monitor) SessionID() string {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sessionID
}

// StartSession starts the engine and both loops. The session ends when
// EndSession is called or ctx is done.
func (m *Monitor) StartSession(ctx context.Context) (string, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return "", ErrSessionActive
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.result = attention.Result{State: attention.Unknown, Reason: "no observation yet", Source: attention.SourceLocal}
	m.resultAt = time.Time{}
	m.mu.Unlock()
	if m.oracle != nil {
		m.oracle.Reset()
	}
	m.engine.StartSession(id)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.sessionID = id

	m.wg.Add(2)
	go m.classifyLoop(runCtx)
	go m.pollLoop(runCtx)
	go m.endOnDone(ctx, runCtx, id)

	m.logger.Info("session started", "session_id", id)
	return id, nil
}

// endOnDone ends session id when its parent ctx is cancelled.
func (m *Monitor) endOnDone(parent, runCtx context.Context, id string) {
	<-runCtx.Done()
	if parent.Err() == nil {
		return
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil || m.sessionID != id {
		return
	}
	m.logger.Info("session context done", "session_id", id, "error", parent.Err())
	m.endLocked()
}

// EndSession stops both loops and returns the session stats. A message
// generation in flight is cancelled and its result discarded.
func (m *Monitor) EndSession() (escalation.SessionStats, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return escalation.SessionStats{}, escalation.ErrNoSession
	}
	return m.endLocked(), nil
}

// endLocked tears the running session down. runMu must be held.
func (m *Monitor) endLocked() escalation.SessionStats {
	m.cancel()
	stats, _ := m.engine.EndSession()
	m.wg.Wait()

	m.logger.Info("session ended", "session_id", m.sessionID)
	m.cancel = nil
	m.sessionID = ""
	return stats
}

// Counters reports how many frames, classifications and engine ticks ran.
func (m *Monitor) Counters() (frames, classifications, ticks uint64) {
	return m.frames.Load(), m.classifications.Load(), m.ticks.Load()
}

// classifyLoop classifies on new landmarks, throttled to ClassifyRate, and
// at least every IdleClassify so that a stalled capture decays to no face.
func (m *Monitor) classifyLoop(ctx context.Context) {
	defer m.wg.Done()

	idle := time.NewTicker(m.cfg.IdleClassify)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-idle.C:
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.ClassifyOnce()
	}
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PollOnce(ctx)
		}
	}
}
