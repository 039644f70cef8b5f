package exam

import (
	"time"

	"github.com/krshsl/cascprep/models"
)

type Mode string

const (
	ModeIdle     Mode = "idle"
	ModeStation  Mode = "station"
	ModeBreak    Mode = "break"
	ModeFinished Mode = "finished"
)

type Phase string

const (
	PhaseReading  Phase = "reading"
	PhaseRoleplay Phase = "roleplay"
)

// State is a snapshot of where an exam is. Station is -1 outside stations.
type State struct {
	Mode         Mode          `json:"mode"`
	Phase        Phase         `json:"phase,omitempty"`
	Station      int           `json:"station"`
	Remaining    time.Duration `json:"-"`
	RemainingSec int           `json:"remainingSec"`
}

// Same reports whether two states are at the same step, ignoring the clock.
func (s State) Same(o State) bool {
	return s.Mode == o.Mode && s.Phase == o.Phase && s.Station == o.Station
}

// Transition is one step change; At is the elapsed exam time it happened at.
type Transition struct {
	From State         `json:"from"`
	To   State         `json:"to"`
	At   time.Duration `json:"-"`
}

// Sequencer drives a run through reading, roleplay, break and finish. It is
// not safe for concurrent use.
type Sequencer struct {
	reading   time.Duration
	breakTime time.Duration
	stations  []time.Duration
	morning   int

	mode      Mode
	phase     Phase
	station   int
	remaining time.Duration
	elapsed   time.Duration
}

// NewSequencer builds a sequencer for the given stations. A station's own
// DurationSec wins over the circuit default when set.
func NewSequencer(sched models.Schedule, stations []models.Station) *Sequencer {
	durations := make([]time.Duration, len(stations))
	morning := sched.Morning.Stations
	if morning > len(stations) {
		morning = len(stations)
	}
	for i, st := range stations {
		sec := st.DurationSec
		if sec <= 0 {
			if i < morning {
				sec = sched.Morning.PerStationSec
			} else {
				sec = sched.Afternoon.PerStationSec
			}
		}
		durations[i] = time.Duration(sec) * time.Second
	}
	return &Sequencer{
		reading:   time.Duration(sched.ReadingSec) * time.Second,
		breakTime: time.Duration(sched.BreakSec) * time.Second,
		stations:  durations,
		morning:   morning,
		mode:      ModeIdle,
		station:   -1,
	}
}

func (s *Sequencer) State() State {
	return State{
		Mode:         s.mode,
		Phase:        s.phase,
		Station:      s.station,
		Remaining:    s.remaining,
		RemainingSec: int((s.remaining + time.Second - 1) / time.Second),
	}
}

// Elapsed is the exam time consumed since Start.
func (s *Sequencer) Elapsed() time.Duration { return s.elapsed }

// Start moves an idle sequencer to reading time of the first station. It
// returns nil when the sequencer has already started.
func (s *Sequencer) Start() *Transition {
	if s.mode != ModeIdle {
		return nil
	}
	from := s.State()
	if len(s.stations) == 0 {
		s.mode, s.phase, s.station, s.remaining = ModeFinished, "", -1, 0
	} else {
		s.enterReading(0)
	}
	return &Transition{From: from, To: s.State(), At: s.elapsed}
}

// Advance moves the clock forward by d and returns every transition that
// fired, in order. A phase ends when its remaining time reaches exactly zero.
func (s *Sequencer) Advance(d time.Duration) []Transition {
	var out []Transition
	for d > 0 || (s.active() && s.remaining <= 0) {
		if !s.active() {
			break
		}
		if d < s.remaining {
			s.remaining -= d
			s.elapsed += d
			return out
		}
		d -= s.remaining
		s.elapsed += s.remaining
		s.remaining = 0
		from := s.State()
		s.expire()
		out = append(out, Transition{From: from, To: s.State(), At: s.elapsed})
	}
	return out
}

func (s *Sequencer) active() bool {
	return s.mode == ModeStation || s.mode == ModeBreak
}

func (s *Sequencer) enterReading(i int) {
	s.mode, s.phase, s.station, s.remaining = ModeStation, PhaseReading, i, s.reading
}

func (s *Sequencer) expire() {
	switch {
	case s.mode == ModeStation && s.phase == PhaseReading:
		s.phase = PhaseRoleplay
		s.remaining = RoleplayTime(s.stations[s.station], s.reading)
	case s.mode == ModeStation && s.phase == PhaseRoleplay:
		next := s.station + 1
		switch {
		case s.station == s.morning-1 && next < len(s.stations):
			s.mode, s.phase, s.station, s.remaining = ModeBreak, "", -1, s.breakTime
		case next < len(s.stations):
			s.enterReading(next)
		default:
			s.mode, s.phase, s.station, s.remaining = ModeFinished, "", -1, 0
		}
	case s.mode == ModeBreak:
		s.enterReading(s.morning)
	}
}

// StateAt is the state of a run started with Start, elapsed after it began.
func StateAt(sched models.Schedule, stations []models.Station, elapsed time.Duration) State {
	seq := NewSequencer(sched, stations)
	seq.Start()
	if elapsed > 0 {
		seq.Advance(elapsed)
	}
	return seq.State()
}
