// attention-sim plays a scripted capture client against attentiond: it
// dials the capture websocket and streams synthetic face meshes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-attention/internal/httpc"
	"github.com/teslashibe/go-attention/internal/log"
	"github.com/teslashibe/go-attention/pkg/protocol"
)

func main() {
	server := flag.String("server", "localhost:8080", "attentiond host:port")
	name := flag.String("scenario", "recover", "Scenario: "+strings.Join(scenarioNames(), ", "))
	fps := flag.Int("fps", 10, "Landmark frames per second")
	id := flag.String("id", "sim", "Capture client id")
	startSession := flag.Bool("start", true, "Start a session before streaming and end it after")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)
	logger := log.Component("sim")

	steps, err := lookupScenario(*name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *fps <= 0 {
		*fps = 10
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := "http://" + *server + "/api"
	if *startSession {
		if err := post(ctx, api+"/session/start"); err != nil {
			logger.Warn("session start", "error", err)
		}
		defer func() {
			if err := post(context.Background(), api+"/session/end"); err != nil {
				logger.Warn("session end", "error", err)
			}
		}()
	}

	url := "ws://" + *server + "/ws/capture/" + *id
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logger.Error("dial failed", "url", url, "error", err)
		os.Exit(1)
	}
	defer ws.Close()

	logger.Info("streaming",
		"scenario", *name,
		"duration", totalDuration(steps),
		"fps", *fps,
	)

	go readLoop(ws)

	if err := play(ctx, ws, frames(steps, time.Second/time.Duration(*fps))); err != nil && ctx.Err() == nil {
		logger.Error("stream failed", "error", err)
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// play sends each frame at its offset from the start.
func play(ctx context.Context, ws *websocket.Conn, fs []frame) error {
	start := time.Now()
	label := ""
	for i, f := range fs {
		if wait := time.Until(start.Add(f.at)); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if f.label != label {
			label = f.label
			log.Info("pose", "t", f.at.Round(time.Second), "now", label)
		}

		msg, err := protocol.NewLandmarksMessage(f.points, f.confidence, uint64(i+1))
		if err != nil {
			return err
		}
		data, err := msg.Bytes()
		if err != nil {
			return err
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// readLoop logs what the service pushes back.
func readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		switch msg.Type {
		case protocol.TypeIntervention:
			var iv protocol.InterventionData
			if msg.ParseData(&iv) == nil {
				log.Info("intervention", "level", iv.Level, "fallback", iv.Fallback, "message", iv.Message)
			}
		case protocol.TypeStatus:
			var st protocol.StatusData
			if msg.ParseData(&st) == nil {
				log.Debug("status", "state", st.State, "level", st.Level)
			}
		}
	}
}

func post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpc.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	return nil
}
