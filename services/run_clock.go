package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/krshsl/cascprep/exam"
	"github.com/krshsl/cascprep/models"
	ws "github.com/krshsl/cascprep/websocket"
)

const (
	phaseEventType   = "phase"
	runTrackingLimit = 6 * time.Hour
)

type trackedRun struct {
	id        string
	schedule  models.Schedule
	stations  []models.Station
	startedAt time.Time
	last      exam.State
}

// RunClock sweeps active exam runs on one ticker and pushes a phase event to
// a run's sockets whenever its wall-clock state moves on.
type RunClock struct {
	hub      *ws.Hub
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*trackedRun
}

func NewRunClock(hub *ws.Hub, interval time.Duration) *RunClock {
	if interval <= 0 {
		interval = time.Second
	}
	return &RunClock{
		hub:      hub,
		interval: interval,
		now:      time.Now,
		runs:     make(map[string]*trackedRun),
	}
}

// RunState is the sequencer state of run at the given instant.
func RunState(run *models.ExamRun, at time.Time) exam.State {
	return exam.StateAt(run.Schedule, run.Stations, at.Sub(run.StartedAt))
}

type PhaseEvent struct {
	State     exam.State `json:"state"`
	ElapsedMs int64      `json:"elapsedMs"`
}

func phaseMessage(runID string, state exam.State, elapsed time.Duration) []byte {
	payload, _ := json.Marshal(PhaseEvent{State: state, ElapsedMs: elapsed.Milliseconds()})
	b, _ := json.Marshal(ws.Message{Type: phaseEventType, RunID: runID, Payload: payload})
	return b
}

// Track starts sweeping run and returns its current state.
func (c *RunClock) Track(run *models.ExamRun) exam.State {
	state := RunState(run, c.now())
	if state.Mode == exam.ModeFinished {
		return state
	}
	c.mu.Lock()
	c.runs[run.ID] = &trackedRun{
		id:        run.ID,
		schedule:  run.Schedule,
		stations:  run.Stations,
		startedAt: run.StartedAt,
		last:      state,
	}
	c.mu.Unlock()
	slog.Debug("Run tracked", "run_id", run.ID, "mode", state.Mode)
	return state
}

func (c *RunClock) Untrack(runID string) {
	c.mu.Lock()
	delete(c.runs, runID)
	c.mu.Unlock()
}

func (c *RunClock) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

type pendingEvent struct {
	runID   string
	payload []byte
}

// Tick recomputes every tracked run and broadcasts changed states. It returns
// the number of events sent.
func (c *RunClock) Tick() int {
	now := c.now()
	var events []pendingEvent

	c.mu.Lock()
	for id, r := range c.runs {
		elapsed := now.Sub(r.startedAt)
		state := exam.StateAt(r.schedule, r.stations, elapsed)
		if !state.Same(r.last) {
			r.last = state
			events = append(events, pendingEvent{runID: id, payload: phaseMessage(id, state, elapsed)})
		}
		if state.Mode == exam.ModeFinished || elapsed > runTrackingLimit {
			delete(c.runs, id)
		}
	}
	c.mu.Unlock()

	for _, e := range events {
		c.hub.BroadcastToRun(e.runID, e.payload)
	}
	return len(events)
}

func (c *RunClock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}
