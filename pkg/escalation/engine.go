package escalation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for simulated time in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "escalation.engine") }
}

// ladder is the mutable escalation state of one session.
// Zero times are absent.
type ladder struct {
	level            Level
	lastState        attention.State
	lastCause        attention.Cause
	distractionStart time.Time
	lastEscalation   time.Time
	focusedSince     time.Time
	pendingMessage   string
	lastTick         time.Time
	stats            SessionStats
}

// Engine is the escalation state machine. It is safe for concurrent use;
// every mutation is serialized on one mutex and message generation runs
// outside it behind a reentrancy guard.
type Engine struct {
	cfg    Config
	gen    MessageGenerator
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	st        ladder
	active    bool
	sessionID string

	// epoch changes on reset and at session boundaries; an in-flight message
	// from an older epoch is discarded
	epoch uint64

	inflight       bool
	inflightTicket uint64
	tickets        uint64

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

// New creates an engine. gen may be nil, in which case every escalation
// uses the fallback messages.
func New(cfg Config, gen MessageGenerator, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		gen:    gen,
		now:    time.Now,
		logger: slog.Default().With("component", "escalation.engine"),
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine timing.
func (e *Engine) Config() Config {
	return e.cfg
}

// StartSession zeroes the ladder and begins accepting ticks.
// Starting while a session is active restarts it.
func (e *Engine) StartSession(id string) {
	now := e.now()

	e.mu.Lock()
	e.st = ladder{}
	e.active = true
	e.sessionID = id
	e.epoch++
	e.inflight = false
	ev := e.eventLocked(EventSessionStarted, now)
	e.mu.Unlock()

	e.logger.Info("session started", "session_id", id)
	e.publish(ev)
}

// EndSession stops the session and discards its state, returning the final
// stats. Returns false if no session was active.
func (e *Engine) EndSession() (SessionStats, bool) {
	now := e.now()

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return SessionStats{}, false
	}
	e.accumulateLocked(now)
	ev := e.eventLocked(EventSessionEnded, now)
	stats := e.st.stats
	id := e.sessionID

	e.active = false
	e.epoch++
	e.inflight = false
	e.st = ladder{}
	e.sessionID = ""
	e.mu.Unlock()

	e.logger.Info("session ended",
		"session_id", id,
		"distractions", stats.DistractionCount,
		"focused", stats.TotalFocusedTime,
		"distracted", stats.TotalDistractedTime,
	)
	ev.Snapshot.Active = false
	e.publish(ev)
	return stats, true
}

// Active reports whether a session is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Tick applies one poll with the latest classifier result. If an escalation
// is due it generates the message (bounded by MessageTimeout) before
// returning. Ticks arriving while a message is being generated are ignored.
func (e *Engine) Tick(ctx context.Context, r attention.Result) Snapshot {
	now := e.now()

	e.mu.Lock()
	if !e.active || e.inflight {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap
	}

	var events []Event
	prev := e.st.lastState

	e.accumulateLocked(now)
	e.transitionLocked(now, r)
	if prev != r.State {
		events = append(events, e.eventLocked(EventStateChanged, now))
	}

	var req *MessageRequest
	switch r.State {
	case attention.Distracted:
		req = e.dueEscalationLocked(now, r)
	case attention.Focused:
		if e.focusResetDueLocked(now) {
			e.logger.Info("sustained focus, ladder reset",
				"level", e.st.level,
				"focused_for", now.Sub(e.st.focusedSince),
			)
			e.clearLadderLocked()
			events = append(events, e.eventLocked(EventReset, now))
		}
	}

	if req == nil {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		e.publish(events...)
		return snap
	}

	e.tickets++
	ticket := e.tickets
	epoch := e.epoch
	e.inflight = true
	e.inflightTicket = ticket
	e.mu.Unlock()
	e.publish(events...)

	msg, fallback := e.generate(ctx, *req)

	e.mu.Lock()
	if e.inflightTicket == ticket {
		e.inflight = false
	}
	if !e.active || e.epoch != epoch {
		e.logger.Debug("discarding message from previous ladder", "level", req.Level)
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap
	}
	if req.Level <= e.st.level {
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap
	}

	e.st.level = req.Level
	e.st.pendingMessage = msg
	e.st.lastEscalation = now
	ev := e.eventLocked(EventEscalated, now)
	ev.Fallback = fallback
	snap := ev.Snapshot
	e.mu.Unlock()

	e.logger.Info("escalated",
		"level", req.Level,
		"cause", req.Cause,
		"distracted_for", req.DistractionDuration,
		"fallback", fallback,
	)
	e.publish(ev)
	return snap
}

// Dismiss clears the pending message without touching the level and returns
// the level at dismissal. Resetting after a terminal-level dismissal is the
// caller's decision.
func (e *Engine) Dismiss() (Level, bool) {
	now := e.now()

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return LevelNone, false
	}
	e.st.pendingMessage = ""
	level := e.st.level
	ev := e.eventLocked(EventDismissed, now)
	e.mu.Unlock()

	e.publish(ev)
	return level, true
}

// ResetLadder clears the level, timers and pending message. If the user is
// still distracted a fresh episode starts now. Returns false without a session.
func (e *Engine) ResetLadder() bool {
	now := e.now()

	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return false
	}
	e.clearLadderLocked()
	if e.st.lastState == attention.Distracted {
		e.st.distractionStart = now
	}
	ev := e.eventLocked(EventReset, now)
	e.mu.Unlock()

	e.publish(ev)
	return true
}

// Subscribe registers fn for every event and returns a function that
// removes it. fn runs on the goroutine that caused the event and must not
// call back into the engine synchronously.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.subMu.RLock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// accumulateLocked attributes the time since the last tick to the previous state.
func (e *Engine) accumulateLocked(now time.Time) {
	if !e.st.lastTick.IsZero() {
		if dt := now.Sub(e.st.lastTick); dt > 0 {
			switch e.st.lastState {
			case attention.Focused:
				e.st.stats.TotalFocusedTime += dt
			case attention.Distracted:
				e.st.stats.TotalDistractedTime += dt
			}
		}
	}
	e.st.lastTick = now
}

// transitionLocked records entries into and exits from Distracted and Focused.
func (e *Engine) transitionLocked(now time.Time, r attention.Result) {
	prev := e.st.lastState

	if r.State == attention.Distracted && prev != attention.Distracted {
		e.st.stats.DistractionCount++
		e.st.distractionStart = now
	}
	if r.State != attention.Distracted && prev == attention.Distracted {
		e.st.distractionStart = time.Time{}
	}

	if r.State == attention.Focused {
		if e.st.focusedSince.IsZero() {
			e.st.focusedSince = now
		}
	} else {
		e.st.focusedSince = time.Time{}
	}

	e.st.lastState = r.State
	e.st.lastCause = r.Cause
}

// dueEscalationLocked returns the escalation to perform now, if any.
func (e *Engine) dueEscalationLocked(now time.Time, r attention.Result) *MessageRequest {
	if e.st.level >= MaxLevel || e.st.distractionStart.IsZero() {
		return nil
	}

	d := now.Sub(e.st.distractionStart)
	elapsed := d
	// Time since the last raise only counts if it happened this episode
	if e.st.level > LevelNone && !e.st.lastEscalation.IsZero() && !e.st.lastEscalation.Before(e.st.distractionStart) {
		elapsed = now.Sub(e.st.lastEscalation)
	}

	if elapsed < e.cfg.threshold(e.st.level) {
		return nil
	}

	return &MessageRequest{
		State:               r.State,
		Cause:               r.Cause,
		Reason:              r.Reason,
		DistractionDuration: d,
		Level:               e.st.level + 1,
		DistractionCount:    e.st.stats.DistractionCount,
	}
}

func (e *Engine) focusResetDueLocked(now time.Time) bool {
	return e.st.level > LevelNone &&
		!e.st.focusedSince.IsZero() &&
		now.Sub(e.st.focusedSince) >= e.cfg.FocusReset
}

func (e *Engine) clearLadderLocked() {
	e.st.level = LevelNone
	e.st.distractionStart = time.Time{}
	e.st.lastEscalation = time.Time{}
	e.st.focusedSince = time.Time{}
	e.st.pendingMessage = ""
	e.epoch++
}

// generate asks the generator for a message and falls back on any failure.
func (e *Engine) generate(ctx context.Context, req MessageRequest) (string, bool) {
	if e.gen == nil {
		return FallbackMessage(req.Level), true
	}

	if e.cfg.MessageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.MessageTimeout)
		defer cancel()
	}

	msg, err := e.gen.Generate(ctx, req)
	if err != nil {
		e.logger.Warn("message generation failed, using fallback",
			"level", req.Level,
			"error", err,
		)
		return FallbackMessage(req.Level), true
	}

	msg = strings.TrimSpace(msg)
	if msg == "" {
		e.logger.Warn("message generation returned empty text, using fallback", "level", req.Level)
		return FallbackMessage(req.Level), true
	}
	return msg, false
}

func (e *Engine) eventLocked(t EventType, now time.Time) Event {
	return Event{Type: t, At: now, Snapshot: e.snapshotLocked()}
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:        e.sessionID,
		Active:           e.active,
		Level:            e.st.level,
		State:            e.st.lastState,
		Cause:            e.st.lastCause,
		DistractionStart: timePtr(e.st.distractionStart),
		LastEscalation:   timePtr(e.st.lastEscalation),
		FocusedSince:     timePtr(e.st.focusedSince),
		PendingMessage:   e.st.pendingMessage,
		Generating:       e.inflight,
		Stats:            e.st.stats,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
