package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/krshsl/cascprep/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *GORMRepository {
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

	repo := NewGORMRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func createUser(t *testing.T, repo *GORMRepository, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Password: "x"}
	if err := repo.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	repo := newTestRepo(t)
	createUser(t, repo, "a@example.com")

	err := repo.CreateUser(context.Background(), &models.User{Email: "a@example.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetUserMissingReturnsNil(t *testing.T) {
	repo := newTestRepo(t)
	u, err := repo.GetUserByEmail(context.Background(), "nobody@example.com")
	if err != nil || u != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", u, err)
	}
}

func TestClaimEntitlementIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	user := createUser(t, repo, "buyer@example.com")
	ctx := context.Background()

	grant := Grant{
		SessionID: "cs_test_1",
		UserID:    user.ID,
		Product:   models.ProductLive,
		Duration:  30 * 24 * time.Hour,
		Source:    models.SourceCheckout,
	}

	ent, err := repo.ClaimEntitlement(ctx, grant)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	want := now.Add(30 * 24 * time.Hour)
	if !ent.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", ent.ExpiresAt, want)
	}

	if _, err := repo.ClaimEntitlement(ctx, grant); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim: expected ErrAlreadyClaimed, got %v", err)
	}

	stored, err := repo.GetEntitlement(ctx, user.ID, models.ProductLive)
	if err != nil {
		t.Fatalf("get entitlement: %v", err)
	}
	if !stored.ExpiresAt.Equal(want) {
		t.Fatalf("replayed claim changed expiry to %v", stored.ExpiresAt)
	}

	all, err := repo.ListEntitlements(ctx, user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one entitlement row, got %d", len(all))
	}
}

func TestClaimEntitlementExtendsActiveExpiry(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	user := createUser(t, repo, "repeat@example.com")
	ctx := context.Background()

	first := Grant{SessionID: "cs_a", UserID: user.ID, Product: models.ProductTest, Duration: 90 * 24 * time.Hour}
	if _, err := repo.ClaimEntitlement(ctx, first); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	now = now.Add(10 * 24 * time.Hour)
	second := Grant{SessionID: "cs_b", UserID: user.ID, Product: models.ProductTest, Duration: 180 * 24 * time.Hour}
	ent, err := repo.ClaimEntitlement(ctx, second)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}

	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(270 * 24 * time.Hour)
	if !ent.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at = %v, want %v", ent.ExpiresAt, want)
	}
}

func TestClaimEntitlementExtendsRowCreatedConcurrently(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })
	user := createUser(t, repo, "race@example.com")
	ctx := context.Background()

	// Another claim commits the entitlement row between this claim's lookup
	// and its insert.
	rivalExpiry := now.Add(30 * 24 * time.Hour)
	armed := true
	err := repo.DB().Callback().Query().After("gorm:query").Register("test:rival_claim", func(d *gorm.DB) {
		if !armed || d.Statement.Table != "entitlements" {
			return
		}
		armed = false
		_, err := d.Statement.ConnPool.ExecContext(d.Statement.Context,
			"INSERT INTO entitlements (id, user_id, product, expires_at, session_id, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			uuid.NewString(), user.ID, models.ProductLive, rivalExpiry, "cs_rival", models.SourceCheckout, now, now)
		if err != nil {
			t.Errorf("rival insert: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	ent, err := repo.ClaimEntitlement(ctx, Grant{SessionID: "cs_mine", UserID: user.ID, Product: models.ProductLive, Duration: 90 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	want := rivalExpiry.Add(90 * 24 * time.Hour)
	if !ent.ExpiresAt.Equal(want) || ent.SessionID != "cs_mine" {
		t.Fatalf("got %+v, want expiry %v", ent, want)
	}

	all, err := repo.ListEntitlements(ctx, user.ID)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one entitlement row, got %d (%v)", len(all), err)
	}
	if claim, err := repo.GetClaim(ctx, "cs_mine"); err != nil || claim == nil {
		t.Fatalf("claim row missing: %+v (%v)", claim, err)
	}
}

func TestClaimEntitlementRestartsExpired(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := createUser(t, repo, "lapsed@example.com")

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := repo.SetEntitlement(ctx, user.ID, models.ProductLive, start.Add(-time.Hour), models.SourceSeed); err != nil {
		t.Fatalf("seed entitlement: %v", err)
	}

	repo.SetClock(func() time.Time { return start })
	ent, err := repo.ClaimEntitlement(ctx, Grant{SessionID: "cs_new", UserID: user.ID, Product: models.ProductLive, Duration: 24 * time.Hour})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ent.ExpiresAt.Equal(start.Add(24 * time.Hour)) {
		t.Fatalf("expected expiry measured from now, got %v", ent.ExpiresAt)
	}

	claim, err := repo.GetClaim(ctx, "cs_new")
	if err != nil || claim == nil {
		t.Fatalf("expected claim record, got (%v, %v)", claim, err)
	}
	if claim.UserID != user.ID {
		t.Fatalf("claim user = %s, want %s", claim.UserID, user.ID)
	}
}

func TestListActiveEntitlementsSkipsExpired(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	user := createUser(t, repo, "mixed@example.com")
	now := time.Now().UTC()

	if _, err := repo.SetEntitlement(ctx, user.ID, models.ProductTest, now.Add(-time.Minute), models.SourceSeed); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.SetEntitlement(ctx, user.ID, models.ProductLive, now.Add(time.Hour), models.SourceSeed); err != nil {
		t.Fatal(err)
	}

	active, err := repo.ListActiveEntitlements(ctx, user.ID, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].Product != models.ProductLive {
		t.Fatalf("unexpected active entitlements: %+v", active)
	}
}
