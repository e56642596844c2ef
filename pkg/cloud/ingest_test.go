package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/pose"
	"github.com/teslashibe/go-attention/pkg/protocol"
)

type fakeSink struct {
	mu        sync.Mutex
	landmarks [][]pose.Point
	conf      []float64
	frames    [][]byte
	verdicts  []attention.OracleVerdict
	accept    bool
}

func newFakeSink() *fakeSink { return &fakeSink{accept: true} }

func (s *fakeSink) SubmitLandmarks(points []pose.Point, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.landmarks = append(s.landmarks, points)
	s.conf = append(s.conf, confidence)
}

func (s *fakeSink) SubmitFrame(jpeg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, jpeg)
}

func (s *fakeSink) OfferVerdict(v attention.OracleVerdict) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, v)
	return s.accept
}

func (s *fakeSink) counts() (landmarks, frames, verdicts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.landmarks), len(s.frames), len(s.verdicts)
}

// startServer serves the ingest on a random local port.
func startServer(t *testing.T, in *Ingest) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	in.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg *protocol.Message, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewIngest(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	if in.Count() != 0 {
		t.Errorf("Count = %d, want 0", in.Count())
	}
	stats := in.Stats()
	if stats.MessagesReceived != 0 || stats.Captures != 0 {
		t.Errorf("fresh stats = %+v", stats)
	}
}

func TestCaptureConnectDisconnect(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	url := startServer(t, in)

	ws := dial(t, url+"/ws/capture/laptop")
	waitFor(t, "registration", func() bool { return in.Count() == 1 })

	if in.Capture("laptop") == nil {
		t.Error("Capture should return the connected client")
	}

	ws.Close()
	waitFor(t, "disconnect", func() bool { return in.Count() == 0 })
}

func TestCaptureWithoutIDGetsOne(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	url := startServer(t, in)

	dial(t, url+"/ws/capture")
	waitFor(t, "registration", func() bool { return in.Count() == 1 })

	if id := in.Captures()[0].ID; len(id) != 36 {
		t.Errorf("generated id = %q, want a uuid", id)
	}
}

func TestLandmarksReachSink(t *testing.T) {
	sink := newFakeSink()
	in := NewIngest(sink, nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/cam")

	points := pose.Synthetic(10, 0, true)
	msg, err := protocol.NewLandmarksMessage(points, 0.9, 1)
	send(t, ws, msg, err)

	waitFor(t, "landmarks", func() bool { n, _, _ := sink.counts(); return n == 1 })

	sink.mu.Lock()
	got := sink.landmarks[0]
	conf := sink.conf[0]
	sink.mu.Unlock()
	if len(got) != len(points) {
		t.Errorf("points = %d, want %d", len(got), len(points))
	}
	if conf != 0.9 {
		t.Errorf("confidence = %v, want 0.9", conf)
	}
	if in.Stats().Landmarks != 1 {
		t.Errorf("Landmarks stat = %d, want 1", in.Stats().Landmarks)
	}
}

func TestFrameReachesSink(t *testing.T) {
	sink := newFakeSink()
	in := NewIngest(sink, nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/cam")

	msg, err := protocol.NewFrameMessage(640, 480, []byte{0xff, 0xd8, 0xff}, 7)
	send(t, ws, msg, err)

	waitFor(t, "frame", func() bool { _, n, _ := sink.counts(); return n == 1 })
	if in.Stats().Frames != 1 {
		t.Errorf("Frames stat = %d, want 1", in.Stats().Frames)
	}
}

func TestVerdicts(t *testing.T) {
	sink := newFakeSink()
	in := NewIngest(sink, nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/cam")

	msg, err := protocol.NewVerdictMessage(attention.OracleVerdict{
		State:      attention.Distracted,
		Reason:     "holding a phone",
		Confidence: 0.8,
		Cause:      attention.CausePhoneUse,
	})
	send(t, ws, msg, err)

	// Unknown is never a usable verdict
	bad, err := protocol.NewMessage(protocol.TypeVerdict, protocol.VerdictData{State: "unknown", Confidence: 1})
	send(t, ws, bad, err)

	waitFor(t, "rejection", func() bool { return in.Stats().Rejected == 1 })
	waitFor(t, "verdict", func() bool { _, _, n := sink.counts(); return n == 1 })

	sink.mu.Lock()
	v := sink.verdicts[0]
	sink.mu.Unlock()
	if v.State != attention.Distracted || v.Cause != attention.CausePhoneUse {
		t.Errorf("verdict = %+v", v)
	}
}

func TestMalformedMessageIsIgnored(t *testing.T) {
	sink := newFakeSink()
	in := NewIngest(sink, nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/cam")

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	waitFor(t, "rejection", func() bool { return in.Stats().Rejected == 1 })

	// The connection survives a bad message
	msg, err := protocol.NewLandmarksMessage(nil, 0, 2)
	send(t, ws, msg, err)
	waitFor(t, "landmarks", func() bool { n, _, _ := sink.counts(); return n == 1 })
}

func TestLandmarksWithoutConfidenceRejected(t *testing.T) {
	sink := newFakeSink()
	in := NewIngest(sink, nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/cam")

	raw := `{"type":"landmarks","ts":1,"data":{"points":[{"x":0.5,"y":0.5,"z":0}]}}`
	ws.WriteMessage(websocket.TextMessage, []byte(raw))
	waitFor(t, "rejection", func() bool { return in.Stats().Rejected == 1 })

	if n, _, _ := sink.counts(); n != 0 {
		t.Errorf("sink got %d meshes without confidence", n)
	}
}

// A ping whose payload does not parse is still answered.
func TestPingWithBadPayload(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/ping-test")

	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","ts":5,"data":"oops"}`))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	resp, err := protocol.ParseMessage(data)
	if err != nil || resp.Type != protocol.TypePong {
		t.Fatalf("response = %+v, %v", resp, err)
	}
	var pong protocol.PongData
	if err := resp.ParseData(&pong); err != nil {
		t.Fatalf("pong data: %v", err)
	}
	if pong.ID != "" || pong.PingTS != 5 {
		t.Errorf("pong = %+v, want empty id and ping_ts 5", pong)
	}
}

func TestPingPong(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/ping-test")

	msg, err := protocol.NewPingMessage("p1")
	send(t, ws, msg, err)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	resp, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Type != protocol.TypePong {
		t.Errorf("Type = %s, want pong", resp.Type)
	}
	var pong protocol.PongData
	if err := resp.ParseData(&pong); err != nil {
		t.Fatalf("pong data: %v", err)
	}
	if pong.ID != "p1" {
		t.Errorf("pong id = %q, want p1", pong.ID)
	}
	if pong.PingTS != msg.Timestamp {
		t.Errorf("PingTS = %d, want %d", pong.PingTS, msg.Timestamp)
	}
}

func TestSendAndBroadcast(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/overlay")
	waitFor(t, "registration", func() bool { return in.Count() == 1 })

	msg, _ := protocol.NewMessage(protocol.TypeIntervention, protocol.InterventionData{Level: 1, Message: "eyes up"})
	if err := in.Send("overlay", msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	in.Broadcast(msg)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		var got protocol.Message
		json.Unmarshal(data, &got)
		if got.Type != protocol.TypeIntervention {
			t.Errorf("Type = %s, want intervention", got.Type)
		}
	}
	if in.Stats().MessagesSent != 2 {
		t.Errorf("MessagesSent = %d, want 2", in.Stats().MessagesSent)
	}
}

func TestSendToUnknownCapture(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	msg, _ := protocol.NewPingMessage("x")
	if err := in.Send("nobody", msg); err != ErrNotConnected {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
	// Broadcast to nobody should not panic
	in.Broadcast(msg)
}

func TestUpgradeRequired(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	in.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/capture/x", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestAPIRoutes(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	in.RegisterAPIRoutes(app.Group("/api"))

	tests := []struct {
		path string
		want string
	}{
		{"/api/captures/", "captures"},
		{"/api/captures/stats", "messages_received"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			if err != nil {
				t.Fatalf("Request error: %v", err)
			}
			if resp.StatusCode != 200 {
				t.Errorf("Status = %d, want 200", resp.StatusCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body %s missing %q", body, tt.want)
			}
		})
	}
}

func TestRelayEscalation(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	url := startServer(t, in)
	ws := dial(t, url+"/ws/capture/overlay")
	waitFor(t, "registration", func() bool { return in.Count() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go in.RunRelay(ctx)

	in.Publish(escalation.Event{
		Type:     escalation.EventEscalated,
		At:       time.Now(),
		Fallback: true,
		Snapshot: escalation.Snapshot{
			Active:         true,
			Level:          escalation.LevelWarning,
			State:          attention.Distracted,
			PendingMessage: "Still drifting.",
		},
	})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var types []protocol.MessageType
	for i := 0; i < 2; i++ {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		types = append(types, msg.Type)

		if msg.Type == protocol.TypeIntervention {
			var iv protocol.InterventionData
			msg.ParseData(&iv)
			if iv.Level != 2 || iv.Message != "Still drifting." || !iv.Fallback {
				t.Errorf("intervention = %+v", iv)
			}
		}
	}
	if types[0] != protocol.TypeStatus || types[1] != protocol.TypeIntervention {
		t.Errorf("types = %v, want status then intervention", types)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	in := NewIngest(newFakeSink(), nil)
	for i := 0; i < relayBuffer*2; i++ {
		in.Publish(escalation.Event{Type: escalation.EventStateChanged})
	}
	if len(in.events) != relayBuffer {
		t.Errorf("queued = %d, want %d", len(in.events), relayBuffer)
	}
}
