package cloud

import (
	"context"

	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/protocol"
)

const relayBuffer = 32

// Publish queues an engine event for capture clients so their overlay can
// show the level and message. It never blocks; Register it with
// Engine.Subscribe and call RunRelay.
func (in *Ingest) Publish(ev escalation.Event) {
	select {
	case in.events <- ev:
	default:
		in.logger.Warn("relay queue full, dropping event", "type", ev.Type)
	}
}

// RunRelay forwards queued events until ctx is done.
func (in *Ingest) RunRelay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in.events:
			in.relay(ev)
		}
	}
}

func (in *Ingest) relay(ev escalation.Event) {
	if in.Count() == 0 {
		return
	}

	snap := ev.Snapshot
	status, err := protocol.NewStatusMessage(protocol.StatusData{
		Active:         snap.Active,
		State:          string(snap.State),
		Level:          int(snap.Level),
		PendingMessage: snap.PendingMessage,
	})
	if err != nil {
		in.logger.Warn("status encode failed", "error", err)
		return
	}
	in.Broadcast(status)

	if ev.Type != escalation.EventEscalated {
		return
	}
	msg, err := protocol.NewInterventionMessage(int(snap.Level), snap.PendingMessage, ev.Fallback)
	if err != nil {
		in.logger.Warn("intervention encode failed", "error", err)
		return
	}
	in.Broadcast(msg)
}
