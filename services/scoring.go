package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/krshsl/cascprep/models"
	"golang.org/x/sync/errgroup"
)

const (
	scoringFailedFeedback = "An error occurred during scoring for this station."
	maxConcurrentScoring  = 4
)

const examinerPrompt = `You are an expert examiner for a psychiatry CASC exam. Your task is to score a candidate's performance on a single station based on a provided transcript and specific feedback domains.

1. Analyze the transcript and evaluate the candidate's performance against each criterion in the 'Feedback Domains'.
2. For each domain, provide a score from 1 to 10 (1=Fail, 5=Pass, 10=Excellent).
3. Provide a concise, constructive feedback summary (2-3 sentences).
4. Calculate an overall score for the station by averaging the domain scores.
5. Your output MUST be a valid JSON object with the following structure: { "scores": { "DomainName": score }, "feedback": "...", "overallStationScore": avg_score }.`

const tutorPrompt = `You are a CAS exam tutor. Evaluate the candidate's response strictly in CAS exam style.
Return JSON in this format:
{
  "scores": { "communication": number, "dataGathering": number, "professionalism": number, "clinicalReasoning": number },
  "overall": number,
  "strengths": string[],
  "improvements": string[],
  "summary": string
}`

// ScoredStation is a station as submitted for scoring.
type ScoredStation struct {
	Title           string            `json:"title"`
	FeedbackDomains map[string]string `json:"feedbackDomains"`
}

// Examiner scores transcripts and free-text answers with a language model.
type Examiner struct {
	model LanguageModel
	limit int
}

func NewExaminer(model LanguageModel) *Examiner {
	return &Examiner{model: model, limit: maxConcurrentScoring}
}

func transcriptText(log []models.Turn) string {
	var b strings.Builder
	for _, t := range log {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

func failedScore(station ScoredStation) models.ScoreResult {
	scores := make(map[string]float64, len(station.FeedbackDomains))
	for domain := range station.FeedbackDomains {
		scores[domain] = 1
	}
	return models.ScoreResult{
		StationTitle:        station.Title,
		Scores:              scores,
		Feedback:            scoringFailedFeedback,
		OverallStationScore: 1,
	}
}

func clampScore(v float64) float64 {
	return math.Max(1, math.Min(10, v))
}

// ScoreStation never fails; a model or parse error yields the minimum score
// in every domain.
func (e *Examiner) ScoreStation(ctx context.Context, station ScoredStation, log []models.Turn) models.ScoreResult {
	if e.model == nil {
		return failedScore(station)
	}

	criteria, _ := json.MarshalIndent(station.FeedbackDomains, "", "  ")
	user := fmt.Sprintf("STATION TITLE: %s\n\nFEEDBACK DOMAINS:\n%s\n\nCONVERSATION TRANSCRIPT:\n%s\n\nPlease provide your evaluation in the specified JSON format.",
		station.Title, criteria, transcriptText(log))

	content, err := e.model.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: chatSystem, Content: examinerPrompt},
			{Role: chatUser, Content: user},
		},
		JSON: true,
	})
	if err != nil {
		slog.Error("Station scoring failed", "error", err, "station", station.Title)
		return failedScore(station)
	}

	var parsed struct {
		Scores              map[string]float64 `json:"scores"`
		Feedback            string             `json:"feedback"`
		OverallStationScore *float64           `json:"overallStationScore"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &parsed); err != nil || len(parsed.Scores) == 0 {
		slog.Error("Station score unreadable", "error", err, "station", station.Title)
		return failedScore(station)
	}

	result := models.ScoreResult{
		StationTitle: station.Title,
		Scores:       make(map[string]float64, len(parsed.Scores)),
		Feedback:     strings.TrimSpace(parsed.Feedback),
	}
	var sum float64
	for domain, score := range parsed.Scores {
		result.Scores[domain] = clampScore(score)
		sum += result.Scores[domain]
	}
	if parsed.OverallStationScore != nil {
		result.OverallStationScore = clampScore(*parsed.OverallStationScore)
	} else {
		result.OverallStationScore = sum / float64(len(result.Scores))
	}
	return result
}

// ScoreAll scores stations concurrently and returns results in station order.
// transcripts is keyed by station index.
func (e *Examiner) ScoreAll(ctx context.Context, stations []ScoredStation, transcripts map[int][]models.Turn) []models.ScoreResult {
	results := make([]models.ScoreResult, len(stations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for i, station := range stations {
		g.Go(func() error {
			results[i] = e.ScoreStation(gctx, station, transcripts[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Evaluate grades one written or spoken answer against a scenario.
func (e *Examiner) Evaluate(ctx context.Context, scenario, answer string) (*models.Feedback, error) {
	if e.model == nil {
		return nil, ErrProviderUnavailable
	}
	content, err := e.model.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: chatSystem, Content: tutorPrompt},
			{Role: chatUser, Content: fmt.Sprintf("Scenario: %s\n\nCandidate Answer:\n%s", scenario, answer)},
		},
		Temperature: temperature(0.4),
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}
	var fb models.Feedback
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &fb); err != nil {
		return nil, fmt.Errorf("failed to decode feedback: %w", err)
	}
	return &fb, nil
}

// EvaluateRun grades every station of a run that has a transcript, keyed by
// station id. Stations that fail to grade are left out.
func (e *Examiner) EvaluateRun(ctx context.Context, run *models.ExamRun) map[string]*models.Feedback {
	indexes := make([]int, 0, len(run.Transcripts))
	for i, log := range run.Transcripts {
		if i >= 0 && i < len(run.Stations) && len(log) > 0 {
			indexes = append(indexes, i)
		}
	}
	sort.Ints(indexes)

	feedback := make([]*models.Feedback, len(indexes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)
	for n, i := range indexes {
		station := run.Stations[i]
		log := run.Transcripts[i]
		g.Go(func() error {
			scenario := station.Title + "\n\n" + station.Scenario
			fb, err := e.Evaluate(gctx, scenario, transcriptText(log))
			if err != nil {
				slog.Error("Run station evaluation failed", "error", err, "run_id", run.ID, "station", i)
				return nil
			}
			feedback[n] = fb
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]*models.Feedback, len(indexes))
	for n, i := range indexes {
		if feedback[n] != nil {
			out[run.Stations[i].ID] = feedback[n]
		}
	}
	return out
}
