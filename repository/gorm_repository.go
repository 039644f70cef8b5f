package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/krshsl/cascprep/models"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyClaimed is returned when a payment session has already been
	// converted into an entitlement.
	ErrAlreadyClaimed = errors.New("checkout session already claimed")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("record already exists")
)

type GORMRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db, now: time.Now}
}

// DB exposes the underlying handle for health checks.
func (r *GORMRepository) DB() *gorm.DB {
	return r.db
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(models.All()...)
}

// isDuplicateKey covers drivers with and without gorm error translation.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// User operations
func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (r *GORMRepository) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password", passwordHash).Error
	if err != nil {
		slog.Error("Failed to update user password", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

// Entitlement operations
func (r *GORMRepository) GetEntitlement(ctx context.Context, userID, product string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product = ?", userID, product).
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get entitlement", "error", err, "user_id", userID, "product", product)
		return nil, err
	}
	return &ent, nil
}

// ListActiveEntitlements returns the user's entitlements that expire after now.
func (r *GORMRepository) ListActiveEntitlements(ctx context.Context, userID string, now time.Time) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Order("product").
		Find(&ents).Error
	if err != nil {
		slog.Error("Failed to list entitlements", "error", err, "user_id", userID)
		return nil, err
	}
	return ents, nil
}

func (r *GORMRepository) ListEntitlements(ctx context.Context, userID string) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("product").Find(&ents).Error; err != nil {
		return nil, err
	}
	return ents, nil
}

// Grant describes an entitlement purchase being applied to a user.
type Grant struct {
	SessionID string
	UserID    string
	Product   string
	Duration  time.Duration
	Source    string
}

// ClaimEntitlement records the claim for g.SessionID and extends the user's
// entitlement by g.Duration, both in one transaction. The new expiry is
// measured from the later of now and the current expiry. A session that was
// already claimed returns ErrAlreadyClaimed and changes nothing.
func (r *GORMRepository) ClaimEntitlement(ctx context.Context, g Grant) (*models.Entitlement, error) {
	now := r.now()
	var out *models.Entitlement

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := &models.CheckoutClaim{
			SessionID: g.SessionID,
			UserID:    g.UserID,
			Product:   g.Product,
			Source:    g.Source,
			ClaimedAt: now,
		}
		if err := tx.Create(claim).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrAlreadyClaimed
			}
			return err
		}

		ent, err := extendEntitlement(tx, g, now)
		if err != nil {
			return err
		}
		out = ent
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyClaimed) {
			slog.Error("Failed to claim entitlement", "error", err, "session_id", g.SessionID, "user_id", g.UserID)
		}
		return nil, err
	}

	slog.Info("Entitlement granted",
		"user_id", g.UserID,
		"product", g.Product,
		"session_id", g.SessionID,
		"expires_at", out.ExpiresAt)
	return out, nil
}

func extendEntitlement(tx *gorm.DB, g Grant, now time.Time) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := tx.Where("user_id = ? AND product = ?", g.UserID, g.Product).First(&ent).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		created := models.Entitlement{
			UserID:    g.UserID,
			Product:   g.Product,
			ExpiresAt: now.Add(g.Duration),
			SessionID: g.SessionID,
			Source:    g.Source,
		}
		// The savepoint keeps tx usable when a concurrent claim for another
		// session inserted the row first; that row is then extended below.
		err := tx.Transaction(func(sp *gorm.DB) error { return sp.Create(&created).Error })
		if err == nil {
			return &created, nil
		}
		if !isDuplicateKey(err) {
			return nil, err
		}
		if err := tx.Where("user_id = ? AND product = ?", g.UserID, g.Product).First(&ent).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	base := now
	if ent.ExpiresAt.After(now) {
		base = ent.ExpiresAt
	}
	ent.ExpiresAt = base.Add(g.Duration)
	ent.SessionID = g.SessionID
	ent.Source = g.Source
	if err := tx.Save(&ent).Error; err != nil {
		return nil, err
	}
	return &ent, nil
}

// SetEntitlement overwrites the expiry of a (user, product) entitlement,
// creating it if needed. Used by the seeder and admin tooling.
func (r *GORMRepository) SetEntitlement(ctx context.Context, userID, product string, expiresAt time.Time, source string) (*models.Entitlement, error) {
	var out models.Entitlement
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND product = ?", userID, product).First(&out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = models.Entitlement{UserID: userID, Product: product, ExpiresAt: expiresAt, Source: source}
			return tx.Create(&out).Error
		}
		if err != nil {
			return err
		}
		out.ExpiresAt = expiresAt
		out.Source = source
		return tx.Save(&out).Error
	})
	if err != nil {
		slog.Error("Failed to set entitlement", "error", err, "user_id", userID, "product", product)
		return nil, err
	}
	return &out, nil
}

// GetClaim returns the claim recorded for a payment session, or nil.
func (r *GORMRepository) GetClaim(ctx context.Context, sessionID string) (*models.CheckoutClaim, error) {
	var claim models.CheckoutClaim
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.Error("Failed to get checkout claim", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &claim, nil
}

// SetClock replaces the time source used for claims.
func (r *GORMRepository) SetClock(now func() time.Time) {
	r.now = now
}
