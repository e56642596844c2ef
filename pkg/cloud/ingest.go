// Package cloud accepts capture-client websocket connections. A capture
// client runs the webcam and face mesh in the browser or on a device and
// streams landmarks, frames and oracle verdicts here.
package cloud

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/oracle"
	"github.com/teslashibe/go-attention/pkg/pose"
	"github.com/teslashibe/go-attention/pkg/protocol"
)

// ErrNotConnected is returned when sending to an unknown capture client.
var ErrNotConnected = errors.New("cloud: capture client not connected")

// Sink receives decoded capture input. *monitor.Monitor implements it.
type Sink interface {
	SubmitLandmarks(points []pose.Point, confidence float64)
	SubmitFrame(jpeg []byte)
	OfferVerdict(v attention.OracleVerdict) bool
}

// Capture is one connected capture client.
type Capture struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// Send writes a message to the client.
func (c *Capture) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// LastSeen returns when the client last sent anything.
func (c *Capture) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Capture) touch(t time.Time) {
	c.mu.Lock()
	c.lastSeen = t
	c.mu.Unlock()
}

// Ingest manages capture connections and forwards their input to a Sink.
type Ingest struct {
	sink   Sink
	logger *slog.Logger

	mu       sync.RWMutex
	captures map[string]*Capture
	events   chan escalation.Event

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	landmarks        atomic.Uint64
	frames           atomic.Uint64
	verdicts         atomic.Uint64
	rejected         atomic.Uint64
}

// NewIngest creates an ingest feeding sink. logger may be nil.
func NewIngest(sink Sink, logger *slog.Logger) *Ingest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{
		sink:     sink,
		logger:   logger.With("component", "cloud.ingest"),
		captures: make(map[string]*Capture),
		events:   make(chan escalation.Event, relayBuffer),
	}
}

// RegisterRoutes mounts the capture websocket on app.
func (in *Ingest) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/capture", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/capture", websocket.New(in.handleCapture))
	app.Get("/ws/capture/:id", websocket.New(in.handleCapture))
}

func (in *Ingest) handleCapture(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	capture := &Capture{ID: id, Conn: c, Connected: now, lastSeen: now}

	in.mu.Lock()
	if old, ok := in.captures[id]; ok {
		// Same id reconnecting; the newer connection wins.
		old.Conn.Close()
	}
	in.captures[id] = capture
	count := len(in.captures)
	in.mu.Unlock()

	in.logger.Info("capture connected", "capture", id, "total", count)

	defer func() {
		in.mu.Lock()
		if in.captures[id] == capture {
			delete(in.captures, id)
		}
		count := len(in.captures)
		in.mu.Unlock()
		in.logger.Info("capture disconnected", "capture", id, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				in.logger.Warn("capture read error", "capture", id, "error", err)
			}
			return
		}
		capture.touch(time.Now())
		in.messagesReceived.Add(1)
		in.handleMessage(capture, data)
	}
}

func (in *Ingest) handleMessage(capture *Capture, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		in.rejected.Add(1)
		in.logger.Warn("parse error", "capture", capture.ID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeLandmarks:
		points, conf, err := msg.GetLandmarks()
		if err != nil {
			in.rejected.Add(1)
			in.logger.Warn("bad landmarks", "capture", capture.ID, "error", err)
			return
		}
		in.landmarks.Add(1)
		in.sink.SubmitLandmarks(points, conf)

	case protocol.TypeFrame:
		jpeg, err := msg.GetFrame()
		if err != nil || len(jpeg) == 0 {
			in.rejected.Add(1)
			in.logger.Warn("bad frame", "capture", capture.ID, "error", err)
			return
		}
		in.frames.Add(1)
		in.sink.SubmitFrame(jpeg)

	case protocol.TypeVerdict:
		v, err := oracle.ParseVerdict(string(msg.Data))
		if err != nil {
			in.rejected.Add(1)
			in.logger.Warn("bad verdict", "capture", capture.ID, "error", err)
			return
		}
		if in.sink.OfferVerdict(v) {
			in.verdicts.Add(1)
		} else {
			in.rejected.Add(1)
		}

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			in.logger.Debug("bad ping", "capture", capture.ID, "error", err)
		}
		pingID := ""
		if ping != nil {
			pingID = ping.ID
		}
		pong, err := protocol.NewPongMessage(pingID, msg.Timestamp, time.Now().UnixMilli())
		if err != nil {
			return
		}
		if err := capture.Send(pong); err != nil {
			in.logger.Warn("pong failed", "capture", capture.ID, "error", err)
			return
		}
		in.messagesSent.Add(1)

	default:
		in.logger.Debug("ignoring message", "capture", capture.ID, "type", msg.Type)
	}
}

// Send delivers msg to one capture client.
func (in *Ingest) Send(id string, msg *protocol.Message) error {
	in.mu.RLock()
	capture, ok := in.captures[id]
	in.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	if err := capture.Send(msg); err != nil {
		return err
	}
	in.messagesSent.Add(1)
	return nil
}

// Broadcast sends msg to every connected capture client. Failed writes are
// logged; the read loop notices the broken connection.
func (in *Ingest) Broadcast(msg *protocol.Message) {
	for _, c := range in.Captures() {
		if err := c.Send(msg); err != nil {
			in.logger.Warn("broadcast failed", "capture", c.ID, "error", err)
			continue
		}
		in.messagesSent.Add(1)
	}
}

// Capture returns a connection by id, or nil.
func (in *Ingest) Capture(id string) *Capture {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.captures[id]
}

// Captures returns all connections.
func (in *Ingest) Captures() []*Capture {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]*Capture, 0, len(in.captures))
	for _, c := range in.captures {
		out = append(out, c)
	}
	return out
}

// Count returns the number of connected capture clients.
func (in *Ingest) Count() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.captures)
}

// Stats contains ingest counters.
type Stats struct {
	Captures         int    `json:"captures"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	Landmarks        uint64 `json:"landmarks"`
	Frames           uint64 `json:"frames"`
	Verdicts         uint64 `json:"verdicts"`
	Rejected         uint64 `json:"rejected"`
}

// Stats returns a counter snapshot.
func (in *Ingest) Stats() Stats {
	return Stats{
		Captures:         in.Count(),
		MessagesReceived: in.messagesReceived.Load(),
		MessagesSent:     in.messagesSent.Load(),
		Landmarks:        in.landmarks.Load(),
		Frames:           in.frames.Load(),
		Verdicts:         in.verdicts.Load(),
		Rejected:         in.rejected.Load(),
	}
}

// CaptureInfo describes a connected capture client.
type CaptureInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// RegisterAPIRoutes mounts capture management endpoints under api.
func (in *Ingest) RegisterAPIRoutes(api fiber.Router) {
	captures := api.Group("/captures")

	captures.Get("/", func(c *fiber.Ctx) error {
		list := in.Captures()
		infos := make([]CaptureInfo, 0, len(list))
		for _, cp := range list {
			infos = append(infos, CaptureInfo{ID: cp.ID, Connected: cp.Connected, LastSeen: cp.LastSeen()})
		}
		return c.JSON(fiber.Map{"captures": infos, "count": len(infos)})
	})

	captures.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(in.Stats())
	})
}
