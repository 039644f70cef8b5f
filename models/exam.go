package models

import "time"

// Circuit names.
const (
	CircuitMorning   = "morning"
	CircuitAfternoon = "afternoon"
)

// Station is one live-mode exam station. Stations are generated per run and
// never written to the database.
type Station struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Scenario    string   `json:"scenario"`
	Tags        []string `json:"tags"`
	Circuit     string   `json:"circuit"`
	DurationSec int      `json:"durationSec"`
}

// PracticeStation is a static practice-mode station with separate briefings
// for the candidate and the simulated patient.
type PracticeStation struct {
	ID                    int               `json:"id"`
	Title                 string            `json:"title"`
	CandidateInstructions string            `json:"candidateInstructions"`
	ActorInstructions     string            `json:"actorInstructions,omitempty"`
	FeedbackDomains       map[string]string `json:"feedbackDomains"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one utterance in a station conversation. User is the doctor,
// assistant is the simulated patient.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CircuitSchedule struct {
	Stations      int `json:"stations"`
	PerStationSec int `json:"perStationSec"`
}

type ScheduleTotals struct {
	PerformanceSec int `json:"performanceSec"`
	ExamSec        int `json:"examSec"`
}

// Schedule is the fixed timing layout of a live exam.
type Schedule struct {
	ReadingSec int             `json:"readingSec"`
	Morning    CircuitSchedule `json:"morning"`
	BreakSec   int             `json:"breakSec"`
	Afternoon  CircuitSchedule `json:"afternoon"`
	Totals     ScheduleTotals  `json:"totals"`
}

// ExamRun is a live exam in progress. It lives in the run store with a TTL
// and is deleted once its transcripts have been scored.
type ExamRun struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Stations    []Station      `json:"stations"`
	Schedule    Schedule       `json:"schedule"`
	StartedAt   time.Time      `json:"startedAt"`
	Transcripts map[int][]Turn `json:"transcripts"`
}

type FeedbackScores struct {
	Communication     float64 `json:"communication"`
	DataGathering     float64 `json:"dataGathering"`
	Professionalism   float64 `json:"professionalism"`
	ClinicalReasoning float64 `json:"clinicalReasoning"`
}

// Feedback is the structured evaluation of one answer or station transcript.
type Feedback struct {
	Scores       FeedbackScores `json:"scores"`
	Overall      float64        `json:"overall"`
	Strengths    []string       `json:"strengths"`
	Improvements []string       `json:"improvements"`
	Summary      string         `json:"summary"`
}

// ScoreResult is the examiner-style score of one station for the PDF report.
type ScoreResult struct {
	StationTitle        string             `json:"stationTitle"`
	Scores              map[string]float64 `json:"scores"`
	Feedback            string             `json:"feedback"`
	OverallStationScore float64            `json:"overallStationScore"`
}
