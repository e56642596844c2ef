package web

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/monitor"
	"github.com/teslashibe/go-attention/pkg/oracle"
	"github.com/teslashibe/go-attention/pkg/protocol"
)

// StatusResponse is the engine snapshot plus the latest classification.
type StatusResponse struct {
	escalation.Snapshot
	Attention    attention.Result `json:"attention"`
	ClassifiedAt *time.Time       `json:"classified_at,omitempty"`
}

// StatusEvent is pushed on /ws/status for every engine event.
type StatusEvent struct {
	Type     escalation.EventType `json:"type"`
	At       time.Time            `json:"at"`
	Fallback bool                 `json:"fallback,omitempty"`
	Status   escalation.Snapshot  `json:"status"`
}

func newStatusEvent(ev escalation.Event) StatusEvent {
	return StatusEvent{Type: ev.Type, At: ev.At, Fallback: ev.Fallback, Status: ev.Snapshot}
}

// DismissResponse reports what a dismissal did.
type DismissResponse struct {
	DismissedLevel escalation.Level    `json:"dismissed_level"`
	Reset          bool                `json:"reset"`
	Status         escalation.Snapshot `json:"status"`
}

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	r, at := s.ctl.Result()
	resp := StatusResponse{Snapshot: s.ctl.Snapshot(), Attention: r}
	if !at.IsZero() {
		resp.ClassifiedAt = &at
	}
	return c.JSON(resp)
}

func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	id, err := s.ctl.StartSession(s.baseCtx)
	if errors.Is(err, monitor.ErrSessionActive) {
		return errorJSON(c, fiber.StatusConflict, err)
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{"session_id": id})
}

func (s *Server) handleSessionEnd(c *fiber.Ctx) error {
	stats, err := s.ctl.EndSession()
	if errors.Is(err, escalation.ErrNoSession) {
		return errorJSON(c, fiber.StatusConflict, err)
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(fiber.Map{
		"distraction_count":        stats.DistractionCount,
		"total_focused_seconds":    stats.TotalFocusedTime.Seconds(),
		"total_distracted_seconds": stats.TotalDistractedTime.Seconds(),
	})
}

// handleDismiss acknowledges the pending message. Acknowledging the
// terminal level also starts the ladder over.
func (s *Server) handleDismiss(c *fiber.Ctx) error {
	level, err := s.ctl.Dismiss()
	if errors.Is(err, escalation.ErrNoSession) {
		return errorJSON(c, fiber.StatusConflict, err)
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	resp := DismissResponse{DismissedLevel: level}
	if level == escalation.MaxLevel {
		if err := s.ctl.ResetLadder(); err != nil {
			return errorJSON(c, fiber.StatusConflict, err)
		}
		resp.Reset = true
	}
	resp.Status = s.ctl.Snapshot()
	return c.JSON(resp)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	if err := s.ctl.ResetLadder(); err != nil {
		return errorJSON(c, fiber.StatusConflict, err)
	}
	return c.JSON(s.ctl.Snapshot())
}

// handleFrames accepts one landmarks payload, the same shape the capture
// websocket carries.
func (s *Server) handleFrames(c *fiber.Ctx) error {
	var data protocol.LandmarksData
	if err := c.BodyParser(&data); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	points, conf, err := data.Decode()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	s.ctl.SubmitLandmarks(points, conf)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleOracle(c *fiber.Ctx) error {
	v, err := oracle.ParseVerdict(string(c.Body()))
	if err != nil {
		return errorJSON(c, fiber.StatusUnprocessableEntity, err)
	}
	return c.JSON(fiber.Map{"accepted": s.ctl.OfferVerdict(v)})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	snap := s.ctl.Snapshot()
	return c.JSON(fiber.Map{
		"status":         "ok",
		"version":        Version,
		"session_active": snap.Active,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	snap := s.ctl.Snapshot()
	frames, classifications, ticks := s.ctl.Counters()
	active := 0
	if snap.Active {
		active = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, `# HELP attention_session_active Whether a session is running
# TYPE attention_session_active gauge
attention_session_active %d

# HELP attention_escalation_level Current escalation level
# TYPE attention_escalation_level gauge
attention_escalation_level %d

# HELP attention_distractions_total Distraction episodes this session
# TYPE attention_distractions_total counter
attention_distractions_total %d

# HELP attention_focused_seconds Focused time this session
# TYPE attention_focused_seconds counter
attention_focused_seconds %.1f

# HELP attention_distracted_seconds Distracted time this session
# TYPE attention_distracted_seconds counter
attention_distracted_seconds %.1f

# HELP attention_frames_total Landmark frames received
# TYPE attention_frames_total counter
attention_frames_total %d

# HELP attention_classifications_total Classifier runs
# TYPE attention_classifications_total counter
attention_classifications_total %d

# HELP attention_ticks_total Escalation engine ticks
# TYPE attention_ticks_total counter
attention_ticks_total %d

# HELP attention_status_clients Connected status websocket clients
# TYPE attention_status_clients gauge
attention_status_clients %d
`,
		active,
		snap.Level,
		snap.Stats.DistractionCount,
		snap.Stats.TotalFocusedTime.Seconds(),
		snap.Stats.TotalDistractedTime.Seconds(),
		frames,
		classifications,
		ticks,
		s.statusHub.ClientCount(),
	)
	for _, fn := range s.extraMetrics {
		b.WriteString("\n")
		b.WriteString(fn())
	}

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}
