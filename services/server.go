package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/krshsl/cascprep/repository"
	ws "github.com/krshsl/cascprep/websocket"
	goredis "github.com/redis/go-redis/v9"
)

// Server holds all server dependencies
type Server struct {
	config   *Config
	repo     *repository.GORMRepository
	runs     repository.RunStore
	redis    *goredis.Client
	payments PaymentGateway

	chatModel    LanguageModel
	voiceModel   LanguageModel
	scoringModel LanguageModel
	transcriber  Transcriber
	speech       SpeechSynthesizer
	openAI       *OpenAIClient

	hub   *ws.Hub
	clock *RunClock

	authService          *AuthService
	entitlementService   *EntitlementService
	authEndpoints        *AuthEndpoints
	entitlementEndpoints *EntitlementEndpoints
	checkoutEndpoints    *CheckoutEndpoints
	examEndpoints        *ExamEndpoints
	upgrader             websocket.Upgrader
}

func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

func (s *Server) SetDatabase(repo *repository.GORMRepository) {
	s.repo = repo
}

// SetRunStore sets where exam runs live. rdb is only used for health checks
// and may be nil.
func (s *Server) SetRunStore(store repository.RunStore, rdb *goredis.Client) {
	s.runs = store
	s.redis = rdb
}

func (s *Server) SetPaymentGateway(g PaymentGateway) {
	s.payments = g
}

// SetModels overrides the configured model providers.
func (s *Server) SetModels(chat, voice, scoring LanguageModel, transcriber Transcriber, speech SpeechSynthesizer) {
	s.chatModel, s.voiceModel, s.scoringModel = chat, voice, scoring
	s.transcriber, s.speech = transcriber, speech
}

func (s *Server) initModels() {
	cfg := s.config.AI
	s.openAI = NewOpenAIClient(cfg)
	if s.chatModel != nil {
		return
	}

	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		gemini := NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel)
		s.chatModel, s.voiceModel, s.scoringModel = gemini, gemini, gemini
		s.transcriber = gemini
		slog.Info("Language model provider selected", "provider", "gemini", "configured", gemini != nil)
	default:
		s.chatModel = s.openAI.Chat(cfg.ChatModel)
		s.voiceModel = s.openAI.Chat(cfg.VoiceModel)
		s.scoringModel = s.openAI.Chat(cfg.ScoringModel)
		s.transcriber = s.openAI
		slog.Info("Language model provider selected", "provider", "openai", "configured", s.openAI.Configured())
	}

	switch strings.ToLower(cfg.TTSProvider) {
	case "elevenlabs":
		s.speech = NewElevenLabsService(cfg.ElevenLabsKey)
	default:
		s.speech = s.openAI
	}
}

// InitializeServices builds every service and starts the hub and run clock,
// which stop when ctx is cancelled.
func (s *Server) InitializeServices(ctx context.Context) error {
	if s.repo == nil {
		return errors.New("database is not configured")
	}
	if s.config.JWT.Secret == "" {
		return errors.New("jwt secret is not configured")
	}
	if s.runs == nil {
		s.runs = repository.NewMemoryRunStore(s.config.Redis.RunTTL)
		slog.Warn("Redis not configured, keeping exam runs in memory")
	}
	if s.payments == nil {
		s.payments = NewStripeGateway(s.config.Stripe.SecretKey, s.config.Stripe.WebhookSecret)
	}
	s.initModels()

	s.hub = ws.NewHub()
	go s.hub.Run(ctx)
	s.clock = NewRunClock(s.hub, time.Second)
	go s.clock.Run(ctx)

	s.authService = NewAuthService(s.repo, s.config.JWT.Secret, s.config.Session, s.config.IsProduction())
	s.entitlementService = NewEntitlementService(s.repo)
	s.authEndpoints = NewAuthEndpoints(s.authService)
	s.entitlementEndpoints = NewEntitlementEndpoints(s.entitlementService, s.authService)
	s.checkoutEndpoints = NewCheckoutEndpoints(s.payments, NewPlanCatalog(s.config.Stripe.Prices), s.repo, s.authService, s.config.Server.BaseURL)

	cache := NewAudioCache(s.config.AI.AudioCacheDir)
	s.examEndpoints = NewExamEndpoints(ExamDeps{
		Patient:      NewPatientActor(s.chatModel, s.voiceModel, s.transcriber, s.speech, cache),
		Examiner:     NewExaminer(s.scoringModel),
		StationModel: s.chatModel,
		Realtime:     s.openAI,
		Runs:         s.runs,
		Clock:        s.clock,
		Hub:          s.hub,
		Upgrader:     s.upgrader,
		Auth:         s.authService,
		Entitlements: s.entitlementService,
		Enforce:      s.config.Access.Enforce,
	})
	if !s.config.Access.Enforce {
		slog.Warn("Entitlement gate disabled")
	}
	return nil
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	s.authEndpoints.RegisterRoutes(r)
	s.entitlementEndpoints.RegisterRoutes(r)
	s.checkoutEndpoints.RegisterRoutes(r)
	s.examEndpoints.RegisterRoutes(r)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Server exited")
	return nil
}

// CheckOrigin accepts a websocket only from a configured origin. An empty
// list rejects everything.
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}
	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}
	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	dbStatus := "up"
	if sqlDB, err := s.repo.DB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbStatus = "down"
		status = "degraded"
	}

	redisStatus := "not configured"
	if s.redis != nil {
		redisStatus = "up"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "down"
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"redis":    redisStatus,
		"runs":     s.clock.Tracked(),
	})
}
