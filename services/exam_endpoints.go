package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krshsl/cascprep/exam"
	"github.com/krshsl/cascprep/models"
	"github.com/krshsl/cascprep/repository"
	ws "github.com/krshsl/cascprep/websocket"
)

const (
	maxAudioUpload = 25 << 20
	maxSDPBytes    = 64 << 10
)

const stationGeneratorSystem = "You are generating realistic UK OSCE/CSA-style stations for doctors. Keep scenarios concise and practical."

const stationGeneratorPrompt = `Create 16 stations spanning varied domains (medicine, surgery, paediatrics, O&G, psychiatry, geriatrics, primary-care emergencies, counselling/medicines).
Return strict JSON:

{
  "stations": [
    { "title": string, "scenario": string, "tags": string[] },
    ...
  ]
}

Rules:
- 'scenario' is the standard stem the examiner shows.
- Keep each scenario 2-4 sentences, UK wording.
- tags: 2-4 concise terms.`

type ExamDeps struct {
	Patient      *PatientActor
	Examiner     *Examiner
	StationModel LanguageModel
	Realtime     *OpenAIClient
	Runs         repository.RunStore
	Clock        *RunClock
	Hub          *ws.Hub
	Upgrader     websocket.Upgrader
	Auth         *AuthService
	Entitlements *EntitlementService
	Enforce      bool
}

type ExamEndpoints struct {
	ExamDeps
	now func() time.Time
}

func NewExamEndpoints(deps ExamDeps) *ExamEndpoints {
	return &ExamEndpoints{ExamDeps: deps, now: time.Now}
}

func (e *ExamEndpoints) gate(product string) func(http.Handler) http.Handler {
	if !e.Enforce {
		return func(next http.Handler) http.Handler { return next }
	}
	return e.Entitlements.Require(product)
}

func (e *ExamEndpoints) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(e.Auth.Middleware, e.gate(models.ProductLive))

		r.Post("/api/live-mode/generate", e.GenerateHandler)
		r.Post("/api/live-mode/reply", e.ReplyHandler)
		r.Post("/api/live-mode/generate-speech", e.SpeechHandler)
		r.Post("/api/casc", e.RealtimeHandler)
		r.Route("/api/live-mode/runs", func(r chi.Router) {
			r.Post("/", e.CreateRunHandler)
			r.Get("/{id}", e.GetRunHandler)
			r.Post("/{id}/turns", e.AppendTurnHandler)
			r.Post("/{id}/finish", e.FinishRunHandler)
			r.Get("/{id}/ws", e.RunSocketHandler)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(e.Auth.Middleware, e.gate(models.ProductTest))

		r.Get("/api/stations", e.StationsHandler)
		r.Post("/api/voice/start", e.VoiceStartHandler)
		r.Post("/api/voice", e.VoiceHandler)
		r.Post("/api/test-mode/evaluate", e.EvaluateHandler)
		r.Post("/api/score", e.ScoreHandler)
		r.Post("/api/report", e.ReportHandler)
	})
}

// generateStations asks the model for a fresh station list and falls back to
// the built-in bank on any failure.
func (e *ExamEndpoints) generateStations(ctx context.Context) []models.Station {
	if e.StationModel == nil {
		return exam.FallbackStations()
	}
	content, err := e.StationModel.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: chatSystem, Content: stationGeneratorSystem},
			{Role: chatUser, Content: stationGeneratorPrompt},
		},
		Temperature: temperature(0.7),
		JSON:        true,
	})
	if err != nil {
		if !errors.Is(err, ErrProviderUnavailable) {
			slog.Error("Station generation failed, using fallback", "error", err)
		}
		return exam.FallbackStations()
	}

	var parsed struct {
		Stations []exam.RawStation `json:"stations"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &parsed); err != nil {
		slog.Warn("Generated stations unreadable, using fallback", "error", err)
		return exam.FallbackStations()
	}
	return exam.NormalizeStations(parsed.Stations)
}

func (e *ExamEndpoints) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stations": e.generateStations(r.Context()),
		"schedule": exam.DefaultSchedule(),
	})
}

type ReplyRequest struct {
	Scenario  string        `json:"scenario"`
	History   []models.Turn `json:"history"`
	Interrupt bool          `json:"interrupt"`
}

func isMultipart(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "multipart/form-data"
}

// readAudio returns the uploaded "audio" part, or nil when there is none.
func readAudio(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

// ReplyHandler always answers 200 with a line for the patient to speak.
func (e *ExamEndpoints) ReplyHandler(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	var doctorText string

	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
			writeJSON(w, http.StatusOK, PatientReply{Reply: fallbackReplyError, Error: "Invalid form data"})
			return
		}
		req.Scenario = r.FormValue("scenario")
		req.Interrupt, _ = strconv.ParseBool(r.FormValue("interrupt"))
		if h := r.FormValue("history"); h != "" {
			if err := json.Unmarshal([]byte(h), &req.History); err != nil {
				writeJSON(w, http.StatusOK, PatientReply{Reply: fallbackReplyError, Error: "Invalid history"})
				return
			}
		}
		audio, filename, err := readAudio(r)
		if err != nil {
			writeJSON(w, http.StatusOK, PatientReply{Reply: fallbackReplyError, Error: "Invalid audio upload"})
			return
		}
		if len(audio) > 0 {
			doctorText, err = e.Patient.Transcribe(r.Context(), audio, filename)
			if err != nil {
				slog.Error("Doctor audio transcription failed", "error", err)
				writeJSON(w, http.StatusOK, PatientReply{Reply: fallbackReplyError, Error: "Transcription failed"})
				return
			}
			if doctorText != "" {
				req.History = append(req.History, models.Turn{Role: models.RoleUser, Content: doctorText})
			}
		}
	} else if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusOK, PatientReply{Reply: fallbackReplyError, Error: "Invalid request body"})
		return
	}

	reply := e.Patient.Reply(r.Context(), req.Scenario, req.History, req.Interrupt)
	reply.DoctorText = doctorText
	writeJSON(w, http.StatusOK, reply)
}

type SpeechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func writeAudio(w http.ResponseWriter, audio []byte) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", "attachment; filename=speech.mp3")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (e *ExamEndpoints) SpeechHandler(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	voice := req.Voice
	if voice == "" {
		voice = "alloy"
	}

	audio, err := e.Patient.Speak(r.Context(), req.Text, voice)
	if err != nil {
		slog.Error("Speech synthesis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate speech")
		return
	}
	writeAudio(w, audio)
}

func (e *ExamEndpoints) RealtimeHandler(w http.ResponseWriter, r *http.Request) {
	if !e.Realtime.Configured() {
		writeError(w, http.StatusInternalServerError, "Realtime provider not configured")
		return
	}
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt != "application/sdp" {
		writeError(w, http.StatusBadRequest, "Unsupported request type")
		return
	}
	offer, err := io.ReadAll(io.LimitReader(r.Body, maxSDPBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offer")
		return
	}

	answer, err := e.Realtime.RealtimeAnswer(r.Context(), string(offer))
	if err != nil {
		var httpErr *openAIHTTPError
		if errors.As(err, &httpErr) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(httpErr.StatusCode)
			io.WriteString(w, httpErr.Body)
			return
		}
		slog.Error("Realtime session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}
	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, answer)
}

type CreateRunRequest struct {
	Stations []exam.RawStation `json:"stations"`
}

type runView struct {
	Run   *models.ExamRun `json:"run"`
	State exam.State      `json:"state"`
}

func (e *ExamEndpoints) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req CreateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	var stations []models.Station
	if len(req.Stations) > 0 {
		stations = exam.NormalizeStations(req.Stations)
	} else {
		stations = e.generateStations(r.Context())
	}

	run := &models.ExamRun{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Stations:    stations,
		Schedule:    exam.DefaultSchedule(),
		StartedAt:   e.now().UTC(),
		Transcripts: make(map[int][]models.Turn),
	}
	if err := e.Runs.Save(r.Context(), run); err != nil {
		writeServiceError(w, err, "Failed to start exam")
		return
	}
	state := e.Clock.Track(run)

	slog.Info("Exam run started", "run_id", run.ID, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, runView{Run: run, State: state})
}

// ownedRun loads the run named in the URL. Runs of other users are reported
// as missing.
func (e *ExamEndpoints) ownedRun(r *http.Request) (*models.ExamRun, error) {
	run, err := e.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrRunNotFound) {
		return nil, newAPIError(http.StatusNotFound, "Run not found", err)
	}
	if err != nil {
		return nil, err
	}
	if user := UserFromContext(r.Context()); user == nil || run.UserID != user.ID {
		return nil, newAPIError(http.StatusNotFound, "Run not found", repository.ErrRunNotFound)
	}
	return run, nil
}

func (e *ExamEndpoints) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := e.ownedRun(r)
	if err != nil {
		writeServiceError(w, err, "Failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, runView{Run: run, State: RunState(run, e.now())})
}

type AppendTurnRequest struct {
	StationIndex int    `json:"stationIndex"`
	Role         string `json:"role"`
	Content      string `json:"content"`
}

func (e *ExamEndpoints) AppendTurnHandler(w http.ResponseWriter, r *http.Request) {
	run, err := e.ownedRun(r)
	if err != nil {
		writeServiceError(w, err, "Failed to load run")
		return
	}

	var req AppendTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant {
		writeError(w, http.StatusBadRequest, "Role must be user or assistant")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Content is required")
		return
	}

	updated, err := e.Runs.AppendTurn(r.Context(), run.ID, req.StationIndex, models.Turn{Role: req.Role, Content: req.Content})
	switch {
	case errors.Is(err, repository.ErrStationOutOfRange):
		writeError(w, http.StatusBadRequest, "Station index out of range")
		return
	case errors.Is(err, repository.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "Run not found")
		return
	case err != nil:
		writeServiceError(w, err, "Failed to save turn")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"turns": len(updated.Transcripts[req.StationIndex]),
	})
}

func (e *ExamEndpoints) FinishRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := e.ownedRun(r)
	if err != nil {
		writeServiceError(w, err, "Failed to load run")
		return
	}

	feedback := e.Examiner.EvaluateRun(r.Context(), run)

	e.Clock.Untrack(run.ID)
	if err := e.Runs.Delete(r.Context(), run.ID); err != nil {
		slog.Error("Failed to delete finished run", "error", err, "run_id", run.ID)
	}
	finished := exam.State{Mode: exam.ModeFinished, Station: -1}
	e.Hub.BroadcastToRun(run.ID, phaseMessage(run.ID, finished, e.now().Sub(run.StartedAt)))

	slog.Info("Exam run finished", "run_id", run.ID, "scored_stations", len(feedback))
	writeJSON(w, http.StatusOK, map[string]interface{}{"feedback": feedback})
}

func (e *ExamEndpoints) RunSocketHandler(w http.ResponseWriter, r *http.Request) {
	run, err := e.ownedRun(r)
	if err != nil {
		writeServiceError(w, err, "Failed to load run")
		return
	}

	conn, err := e.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err, "run_id", run.ID)
		return
	}

	client := ws.NewClient(e.Hub, conn, run.UserID, run.ID)
	handler := NewRunSocketHandler(run, e.now)
	client.MessageHandler = handler.HandleMessage
	e.Hub.Register(client)
	handler.SendState(client)

	go client.WritePump()
	go client.ReadPump()
}

func (e *ExamEndpoints) StationsHandler(w http.ResponseWriter, r *http.Request) {
	stations := exam.PracticeStations()
	for i := range stations {
		stations[i].ActorInstructions = ""
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stations": stations})
}

// stationID accepts both numeric and string ids.
type stationID string

func (s *stationID) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = stationID(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid station id: %s", b)
	}
	*s = stationID(n.String())
	return nil
}

func practiceStation(id string) (*models.PracticeStation, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return nil, false
	}
	st, ok := exam.FindPracticeStation(n)
	if !ok {
		return nil, false
	}
	return &st, true
}

func (e *ExamEndpoints) VoiceStartHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID stationID `json:"stationId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	station, ok := practiceStation(string(req.StationID))
	if !ok {
		writeError(w, http.StatusNotFound, "Station not found")
		return
	}

	turn, err := e.Patient.Opening(r.Context(), station)
	if err != nil {
		slog.Error("Voice start failed", "error", err, "station_id", station.ID)
		writeError(w, http.StatusInternalServerError, "An internal server error occurred")
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (e *ExamEndpoints) VoiceHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	station, ok := practiceStation(r.FormValue("stationId"))
	if !ok {
		writeError(w, http.StatusNotFound, "Station not found")
		return
	}
	audio, filename, err := readAudio(r)
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	var history []ChatMessage
	if c := r.FormValue("conversation"); c != "" {
		if err := json.Unmarshal([]byte(c), &history); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid conversation")
			return
		}
	}

	turn, err := e.Patient.VoiceTurn(r.Context(), station, history, audio, filename)
	if err != nil {
		slog.Error("Voice turn failed", "error", err, "station_id", station.ID)
		writeError(w, http.StatusInternalServerError, "An internal server error occurred")
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (e *ExamEndpoints) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID stationID `json:"scenarioId"`
		Answer     string    `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing scenario or answer")
		return
	}
	if req.ScenarioID == "" || strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "Missing scenario or answer")
		return
	}

	scenario := "ID " + string(req.ScenarioID)
	if st, ok := practiceStation(string(req.ScenarioID)); ok {
		scenario = fmt.Sprintf("%s (%s)\n%s", scenario, st.Title, st.CandidateInstructions)
	}
	fb, err := e.Examiner.Evaluate(r.Context(), scenario, req.Answer)
	if err != nil {
		slog.Error("Evaluation failed", "error", err, "scenario_id", req.ScenarioID)
		writeError(w, http.StatusInternalServerError, "Evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"feedback": fb})
}

type ScoreRequest struct {
	CandidateName string          `json:"candidateName"`
	Stations      []ScoredStation `json:"stations"`
	Transcripts   []struct {
		StationIndex int           `json:"stationIndex"`
		Log          []models.Turn `json:"log"`
	} `json:"transcripts"`
}

type ReportRequest struct {
	CandidateName string            `json:"candidateName"`
	Stations      []FeedbackStation `json:"stations"`
}

func candidateName(r *http.Request, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if user := UserFromContext(r.Context()); user != nil {
		if user.FullName != "" {
			return user.FullName
		}
		return user.Email
	}
	return "Candidate"
}

func writePDF(w http.ResponseWriter, filename string, pdf []byte) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (e *ExamEndpoints) ScoreHandler(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Stations) == 0 {
		writeError(w, http.StatusBadRequest, "No stations to score")
		return
	}

	transcripts := make(map[int][]models.Turn, len(req.Transcripts))
	for _, t := range req.Transcripts {
		if _, seen := transcripts[t.StationIndex]; !seen {
			transcripts[t.StationIndex] = t.Log
		}
	}
	results := e.Examiner.ScoreAll(r.Context(), req.Stations, transcripts)

	var buf bytes.Buffer
	if err := WriteScoreReport(&buf, candidateName(r, req.CandidateName), e.now(), results); err != nil {
		slog.Error("Score report failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate score report")
		return
	}
	writePDF(w, "CASC_Report.pdf", buf.Bytes())
}

func (e *ExamEndpoints) ReportHandler(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var buf bytes.Buffer
	if err := WriteFeedbackReport(&buf, candidateName(r, req.CandidateName), e.now(), req.Stations); err != nil {
		slog.Error("Feedback report failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Error generating PDF")
		return
	}
	writePDF(w, "casc_report.pdf", buf.Bytes())
}
