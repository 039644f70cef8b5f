package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/krshsl/cascprep/models"
	"github.com/krshsl/cascprep/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestRepo(t *testing.T) *repository.GORMRepository {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.NewGORMRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func newTestAuth(repo *repository.GORMRepository) *AuthService {
	return NewAuthService(repo, testSecret, SessionConfig{}, false)
}

// createTestUser stores a user with password "secret1" and returns it with a
// bearer identity token.
func createTestUser(t *testing.T, auth *AuthService, email string) (*models.User, string) {
	t.Helper()
	resp, err := auth.Signup(context.Background(), email, "secret1", "Test Candidate")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	return resp.User, resp.IDToken
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, b []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode body %q: %v", b, err)
	}
}

func newRouter(register ...func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	for _, fn := range register {
		fn(r)
	}
	return r
}

// fakeModel answers every completion with the next scripted reply, repeating
// the last one. It records the requests it saw.
type fakeModel struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []ChatRequest
}

func (m *fakeModel) Complete(ctx context.Context, req ChatRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return f.text, f.err
}

type fakeSpeech struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + voice + ":" + text), nil
}

// fakeGateway serves sessions from a map.
type fakeGateway struct {
	sessions map[string]*CheckoutSession
	created  []CheckoutRequest
	event    *WebhookEvent
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	g.created = append(g.created, req)
	return &CheckoutSession{ID: "cs_new", URL: "https://pay.example/cs_new"}, nil
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if s, ok := g.sessions[id]; ok {
		return s, nil
	}
	return nil, ErrSessionNotFound
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if signature != "valid" {
		return nil, ErrInvalidSignature
	}
	return g.event, nil
}
