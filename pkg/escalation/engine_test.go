package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-attention/pkg/attention"
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// At moves the clock to epoch+d.
func (c *fakeClock) At(d time.Duration) {
	c.mu.Lock()
	c.t = epoch.Add(d)
	c.mu.Unlock()
}

func result(s attention.State) attention.Result {
	r := attention.Result{State: s, Confidence: 0.9, Source: attention.SourceLocal}
	if s == attention.Distracted {
		r.Cause = attention.CauseLookingAway
		r.Reason = "looking left (40°)"
	}
	return r
}

func staticGen(msg string) MessageGenerator {
	return MessageGeneratorFunc(func(context.Context, MessageRequest) (string, error) {
		return msg, nil
	})
}

func newTestEngine(t *testing.T, gen MessageGenerator) (*Engine, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	e := New(DefaultConfig(), gen, WithClock(clk.Now))
	e.StartSession("test")
	return e, clk
}

// run ticks state every 500ms over [from, to] and returns the last snapshot.
func run(e *Engine, clk *fakeClock, from, to time.Duration, s attention.State) Snapshot {
	var snap Snapshot
	for d := from; d <= to; d += 500 * time.Millisecond {
		clk.At(d)
		snap = e.Tick(context.Background(), result(s))
	}
	return snap
}

func TestEngine_EscalationTimeline(t *testing.T) {
	e, clk := newTestEngine(t, staticGen("focus"))

	for d := time.Duration(0); d <= 40*time.Second; d += 500 * time.Millisecond {
		clk.At(d)
		snap := e.Tick(context.Background(), result(attention.Distracted))

		want := LevelNone
		switch {
		case d >= 30*time.Second:
			want = LevelCritical
		case d >= 15*time.Second:
			want = LevelWarning
		case d >= 5*time.Second:
			want = LevelNudge
		}
		if snap.Level != want {
			t.Fatalf("at %v: level = %d, want %d", d, snap.Level, want)
		}
	}

	snap := e.Snapshot()
	if snap.LastEscalation == nil || !snap.LastEscalation.Equal(epoch.Add(30*time.Second)) {
		t.Errorf("LastEscalation = %v, want %v", snap.LastEscalation, epoch.Add(30*time.Second))
	}
	if snap.PendingMessage != "focus" {
		t.Errorf("PendingMessage = %q", snap.PendingMessage)
	}
	if snap.Stats.DistractionCount != 1 {
		t.Errorf("DistractionCount = %d, want 1", snap.Stats.DistractionCount)
	}
}

func TestEngine_MessageRequest(t *testing.T) {
	var got []MessageRequest
	gen := MessageGeneratorFunc(func(_ context.Context, req MessageRequest) (string, error) {
		got = append(got, req)
		return "msg", nil
	})
	e, clk := newTestEngine(t, gen)

	run(e, clk, 0, 15*time.Second, attention.Distracted)

	if len(got) != 2 {
		t.Fatalf("generator called %d times, want 2", len(got))
	}
	first := got[0]
	if first.Level != LevelNudge || first.DistractionDuration != 5*time.Second {
		t.Errorf("first request = %+v", first)
	}
	if first.Cause != attention.CauseLookingAway || first.State != attention.Distracted {
		t.Errorf("first request cause/state = %q/%q", first.Cause, first.State)
	}
	if first.DistractionCount != 1 {
		t.Errorf("DistractionCount = %d", first.DistractionCount)
	}
	if got[1].Level != LevelWarning || got[1].DistractionDuration != 15*time.Second {
		t.Errorf("second request = %+v", got[1])
	}
}

func TestEngine_NoEscalationBeforeThreshold(t *testing.T) {
	e, clk := newTestEngine(t, nil)

	snap := run(e, clk, 0, 4500*time.Millisecond, attention.Distracted)
	if snap.Level != LevelNone {
		t.Fatalf("level = %d after 4.5s", snap.Level)
	}

	// A single non-distracted tick restarts the episode
	clk.At(5 * time.Second)
	e.Tick(context.Background(), result(attention.Unknown))
	snap = run(e, clk, 5500*time.Millisecond, 10*time.Second, attention.Distracted)
	if snap.Level != LevelNone {
		t.Fatalf("level = %d, distraction should have restarted", snap.Level)
	}
	if snap.Stats.DistractionCount != 2 {
		t.Errorf("DistractionCount = %d, want 2", snap.Stats.DistractionCount)
	}
	snap = run(e, clk, 10500*time.Millisecond, 10500*time.Millisecond, attention.Distracted)
	if snap.Level != LevelNudge {
		t.Errorf("level = %d at 5s into second episode", snap.Level)
	}
}

func TestEngine_FocusReset(t *testing.T) {
	e, clk := newTestEngine(t, staticGen("msg"))

	run(e, clk, 0, 6*time.Second, attention.Distracted)
	if got := e.Snapshot().Level; got != LevelNudge {
		t.Fatalf("level = %d, want 1", got)
	}

	snap := run(e, clk, 6500*time.Millisecond, 36*time.Second, attention.Focused)
	if snap.Level != LevelNudge {
		t.Fatalf("reset early: level = %d at 29.5s focused", snap.Level)
	}
	if snap.FocusedSince == nil || !snap.FocusedSince.Equal(epoch.Add(6500*time.Millisecond)) {
		t.Fatalf("FocusedSince = %v, want first focused tick", snap.FocusedSince)
	}

	clk.At(36500 * time.Millisecond)
	snap = e.Tick(context.Background(), result(attention.Focused))
	if snap.Level != LevelNone {
		t.Fatalf("level = %d after 30s focus", snap.Level)
	}
	if snap.PendingMessage != "" || snap.LastEscalation != nil || snap.DistractionStart != nil {
		t.Errorf("ladder not cleared: %+v", snap)
	}
}

func TestEngine_FocusInterruptedRestartsTimer(t *testing.T) {
	e, clk := newTestEngine(t, nil)

	run(e, clk, 0, 5*time.Second, attention.Distracted)
	run(e, clk, 5500*time.Millisecond, 25*time.Second, attention.Focused)

	clk.At(25500 * time.Millisecond)
	e.Tick(context.Background(), result(attention.Unknown))

	snap := run(e, clk, 26*time.Second, 55*time.Second, attention.Focused)
	if snap.Level != LevelNudge {
		t.Fatalf("level = %d, focus timer should have restarted at 26s", snap.Level)
	}
	snap = run(e, clk, 55500*time.Millisecond, 56*time.Second, attention.Focused)
	if snap.Level != LevelNone {
		t.Fatalf("level = %d after 30s uninterrupted focus", snap.Level)
	}
}

func TestEngine_FocusedWithoutLevelKeepsTimer(t *testing.T) {
	e, clk := newTestEngine(t, nil)

	snap := run(e, clk, 0, 60*time.Second, attention.Focused)
	if snap.FocusedSince == nil || !snap.FocusedSince.Equal(epoch) {
		t.Errorf("FocusedSince = %v, want %v", snap.FocusedSince, epoch)
	}
	if snap.Stats.TotalFocusedTime != 60*time.Second {
		t.Errorf("TotalFocusedTime = %v", snap.Stats.TotalFocusedTime)
	}
}

func TestEngine_Fallback(t *testing.T) {
	tests := []struct {
		name string
		gen  MessageGenerator
	}{
		{"nil generator", nil},
		{"error", MessageGeneratorFunc(func(context.Context, MessageRequest) (string, error) {
			return "", errors.New("provider down")
		})},
		{"blank", staticGen("   \n")},
		{"timeout", MessageGeneratorFunc(func(ctx context.Context, _ MessageRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			cfg := DefaultConfig()
			cfg.MessageTimeout = 20 * time.Millisecond
			e := New(cfg, tt.gen, WithClock(clk.Now))
			e.StartSession("s")

			var fallback bool
			e.Subscribe(func(ev Event) {
				if ev.Type == EventEscalated {
					fallback = ev.Fallback
				}
			})

			snap := run(e, clk, 0, 5*time.Second, attention.Distracted)
			if snap.Level != LevelNudge {
				t.Fatalf("level = %d, want 1", snap.Level)
			}
			if snap.PendingMessage != FallbackMessage(LevelNudge) {
				t.Errorf("PendingMessage = %q", snap.PendingMessage)
			}
			if !fallback {
				t.Error("escalated event not marked as fallback")
			}
		})
	}
}

func TestEngine_TrimsGeneratedMessage(t *testing.T) {
	e, clk := newTestEngine(t, staticGen("  back to it  \n"))
	snap := run(e, clk, 0, 5*time.Second, attention.Distracted)
	if snap.PendingMessage != "back to it" {
		t.Errorf("PendingMessage = %q", snap.PendingMessage)
	}
}

func TestEngine_ReentrancyGuard(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	gen := MessageGeneratorFunc(func(context.Context, MessageRequest) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return "slow", nil
	})

	e, clk := newTestEngine(t, gen)
	run(e, clk, 0, 4500*time.Millisecond, attention.Distracted)

	clk.At(5 * time.Second)
	done := make(chan Snapshot)
	go func() { done <- e.Tick(context.Background(), result(attention.Distracted)) }()
	<-started

	for d := 5500 * time.Millisecond; d <= 20*time.Second; d += 500 * time.Millisecond {
		clk.At(d)
		snap := e.Tick(context.Background(), result(attention.Distracted))
		if !snap.Generating {
			t.Fatal("Generating = false while message in flight")
		}
		if snap.Level != LevelNone {
			t.Fatalf("level changed to %d during generation", snap.Level)
		}
	}

	close(release)
	snap := <-done
	if snap.Level != LevelNudge || snap.PendingMessage != "slow" {
		t.Fatalf("after release: %+v", snap)
	}
	if !snap.LastEscalation.Equal(epoch.Add(5 * time.Second)) {
		t.Errorf("LastEscalation = %v, want decision time", snap.LastEscalation)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("generator called %d times, want 1", calls)
	}
}

func TestEngine_EndSessionDiscardsInflight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := MessageGeneratorFunc(func(context.Context, MessageRequest) (string, error) {
		close(started)
		<-release
		return "late", nil
	})

	e, clk := newTestEngine(t, gen)
	var escalated int
	e.Subscribe(func(ev Event) {
		if ev.Type == EventEscalated {
			escalated++
		}
	})

	run(e, clk, 0, 4500*time.Millisecond, attention.Distracted)
	clk.At(5 * time.Second)
	done := make(chan Snapshot)
	go func() { done <- e.Tick(context.Background(), result(attention.Distracted)) }()
	<-started

	if _, ok := e.EndSession(); !ok {
		t.Fatal("EndSession returned false")
	}
	close(release)
	snap := <-done

	if snap.Active || snap.Level != LevelNone || snap.PendingMessage != "" {
		t.Errorf("stale message applied: %+v", snap)
	}
	if escalated != 0 {
		t.Errorf("escalated events = %d, want 0", escalated)
	}
}

func TestEngine_ResetDiscardsInflight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := MessageGeneratorFunc(func(context.Context, MessageRequest) (string, error) {
		close(started)
		<-release
		return "late", nil
	})

	e, clk := newTestEngine(t, gen)
	run(e, clk, 0, 4500*time.Millisecond, attention.Distracted)
	clk.At(5 * time.Second)
	done := make(chan Snapshot)
	go func() { done <- e.Tick(context.Background(), result(attention.Distracted)) }()
	<-started

	e.ResetLadder()
	close(release)
	snap := <-done
	if snap.Level != LevelNone || snap.PendingMessage != "" {
		t.Errorf("message from reset ladder applied: %+v", snap)
	}
}

func TestEngine_DismissAndReset(t *testing.T) {
	e, clk := newTestEngine(t, staticGen("msg"))
	run(e, clk, 0, 30*time.Second, attention.Distracted)

	level, ok := e.Dismiss()
	if !ok || level != LevelCritical {
		t.Fatalf("Dismiss() = %d, %v", level, ok)
	}
	snap := e.Snapshot()
	if snap.Level != LevelCritical {
		t.Errorf("Dismiss changed level to %d", snap.Level)
	}
	if snap.PendingMessage != "" {
		t.Errorf("PendingMessage = %q after dismiss", snap.PendingMessage)
	}
	if snap.DistractionStart == nil {
		t.Error("Dismiss cleared DistractionStart")
	}

	clk.At(31 * time.Second)
	if !e.ResetLadder() {
		t.Fatal("ResetLadder returned false")
	}
	snap = e.Snapshot()
	if snap.Level != LevelNone || snap.LastEscalation != nil || snap.FocusedSince != nil {
		t.Errorf("ladder not cleared: %+v", snap)
	}
	// Still distracted: a fresh episode begins at the reset
	if snap.DistractionStart == nil || !snap.DistractionStart.Equal(epoch.Add(31*time.Second)) {
		t.Errorf("DistractionStart = %v, want reset time", snap.DistractionStart)
	}

	snap = run(e, clk, 31500*time.Millisecond, 36*time.Second, attention.Distracted)
	if snap.Level != LevelNudge {
		t.Errorf("level = %d, want ladder to climb again after reset", snap.Level)
	}
}

func TestEngine_Inactive(t *testing.T) {
	clk := newFakeClock()
	e := New(DefaultConfig(), nil, WithClock(clk.Now))

	snap := run(e, clk, 0, 10*time.Second, attention.Distracted)
	if snap.Active || snap.Level != LevelNone || snap.Stats.DistractionCount != 0 {
		t.Errorf("inactive engine changed state: %+v", snap)
	}
	if _, ok := e.Dismiss(); ok {
		t.Error("Dismiss succeeded without session")
	}
	if e.ResetLadder() {
		t.Error("ResetLadder succeeded without session")
	}
	if _, ok := e.EndSession(); ok {
		t.Error("EndSession succeeded without session")
	}
}

func TestEngine_SessionLifecycle(t *testing.T) {
	e, clk := newTestEngine(t, nil)

	run(e, clk, 0, 4*time.Second, attention.Focused)
	run(e, clk, 4500*time.Millisecond, 10*time.Second, attention.Distracted)
	clk.At(12 * time.Second)

	stats, ok := e.EndSession()
	if !ok {
		t.Fatal("EndSession returned false")
	}
	if stats.DistractionCount != 1 {
		t.Errorf("DistractionCount = %d", stats.DistractionCount)
	}
	if stats.TotalFocusedTime != 4500*time.Millisecond {
		t.Errorf("TotalFocusedTime = %v", stats.TotalFocusedTime)
	}
	if stats.TotalDistractedTime != 7500*time.Millisecond {
		t.Errorf("TotalDistractedTime = %v", stats.TotalDistractedTime)
	}

	snap := e.Snapshot()
	if snap.Active || snap.Level != LevelNone || snap.SessionID != "" {
		t.Errorf("state survived EndSession: %+v", snap)
	}

	e.StartSession("next")
	snap = e.Snapshot()
	if !snap.Active || snap.SessionID != "next" || snap.Stats != (SessionStats{}) {
		t.Errorf("StartSession did not zero state: %+v", snap)
	}
}

func TestEngine_Subscribe(t *testing.T) {
	clk := newFakeClock()
	e := New(DefaultConfig(), staticGen("msg"), WithClock(clk.Now))

	var got []EventType
	unsubscribe := e.Subscribe(func(ev Event) { got = append(got, ev.Type) })

	e.StartSession("s")
	run(e, clk, 0, 5*time.Second, attention.Distracted)
	e.Dismiss()
	e.ResetLadder()
	e.EndSession()

	want := []EventType{
		EventSessionStarted,
		EventStateChanged,
		EventEscalated,
		EventDismissed,
		EventReset,
		EventSessionEnded,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	unsubscribe()
	e.StartSession("again")
	if len(got) != len(want) {
		t.Errorf("received event after unsubscribe: %v", got[len(want):])
	}
}

// Six seconds distracted then thirty-one focused returns to a clean ladder.
func TestEngine_DistractThenRecover(t *testing.T) {
	e, clk := newTestEngine(t, staticGen("eyes up"))

	snap := run(e, clk, 0, 6*time.Second, attention.Distracted)
	if snap.Level != LevelNudge || snap.PendingMessage == "" {
		t.Fatalf("after 6s distracted: level %d, message %q", snap.Level, snap.PendingMessage)
	}

	snap = run(e, clk, 6500*time.Millisecond, 37500*time.Millisecond, attention.Focused)
	if snap.Level != LevelNone || snap.PendingMessage != "" {
		t.Fatalf("after 31s focused: level %d, message %q", snap.Level, snap.PendingMessage)
	}
}

func TestFallbackMessage(t *testing.T) {
	for _, l := range []Level{LevelNudge, LevelWarning, LevelCritical} {
		if FallbackMessage(l) == "" {
			t.Errorf("FallbackMessage(%d) is empty", l)
		}
	}
	if FallbackMessage(0) != FallbackMessage(LevelNudge) {
		t.Error("level 0 not clamped to 1")
	}
	if FallbackMessage(9) != FallbackMessage(LevelCritical) {
		t.Error("level 9 not clamped to 3")
	}
}

func TestLevelString(t *testing.T) {
	if LevelWarning.String() != "warning" || Level(7).String() != "invalid" {
		t.Error("unexpected Level.String output")
	}
}
