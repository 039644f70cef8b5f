package services

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/krshsl/cascprep/models"
	ws "github.com/krshsl/cascprep/websocket"
)

// RunSocketHandler answers messages a client sends on a run socket. Phase
// changes are pushed by the RunClock; clients only ask for a fresh state.
type RunSocketHandler struct {
	run *models.ExamRun
	now func() time.Time
}

func NewRunSocketHandler(run *models.ExamRun, now func() time.Time) *RunSocketHandler {
	return &RunSocketHandler{run: run, now: now}
}

func (h *RunSocketHandler) state() ws.Message {
	elapsed := h.now().Sub(h.run.StartedAt)
	payload, _ := json.Marshal(PhaseEvent{State: RunState(h.run, h.now()), ElapsedMs: elapsed.Milliseconds()})
	return ws.Message{Type: phaseEventType, RunID: h.run.ID, Payload: payload}
}

func (h *RunSocketHandler) SendState(client *ws.Client) {
	client.Reply(h.state())
}

func (h *RunSocketHandler) HandleMessage(client *ws.Client, msg ws.Message) {
	switch msg.Type {
	case "status":
		h.SendState(client)
	case "ping":
		client.Reply(ws.Message{Type: "pong", RunID: h.run.ID})
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "run_id", h.run.ID)
		client.Reply(ws.Message{Type: "error", RunID: h.run.ID, Payload: json.RawMessage(`"unknown message type"`)})
	}
}
