package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/krshsl/cascprep/models"
	"github.com/krshsl/cascprep/repository"
)

const demoPassword = "password"

type seedUser struct {
	email    string
	fullName string
	products []string
}

// Demo accounts for local development. The trial account holds practice
// access only so both sides of the gate can be tried.
var seedUsers = []seedUser{
	{email: "test@example.com", fullName: "Test User", products: []string{models.ProductTest, models.ProductLive}},
	{email: "trial@example.com", fullName: "Trial User", products: []string{models.ProductTest}},
	{email: "locked@example.com", fullName: "Locked User"},
}

// DatabaseSeeder creates demo users and entitlements.
type DatabaseSeeder struct {
	repo *repository.GORMRepository
	now  func() time.Time
}

func NewDatabaseSeeder(repo *repository.GORMRepository) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo, now: time.Now}
}

// SeedDatabase is idempotent: existing users are kept and their seeded
// entitlements are reset to 30 days from now.
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	hashed, err := hashPassword(demoPassword)
	if err != nil {
		return err
	}

	for _, su := range seedUsers {
		user, err := s.repo.GetUserByEmail(ctx, su.email)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", su.email, err)
		}
		if user == nil {
			user = &models.User{Email: su.email, Password: hashed, FullName: su.fullName, Role: "user"}
			if err := s.repo.CreateUser(ctx, user); err != nil {
				return fmt.Errorf("failed to create %s: %w", su.email, err)
			}
			slog.Info("Seeded user", "email", su.email)
		}

		expires := s.now().Add(30 * 24 * time.Hour)
		for _, product := range su.products {
			if _, err := s.repo.SetEntitlement(ctx, user.ID, product, expires, models.SourceSeed); err != nil {
				return fmt.Errorf("failed to seed %s entitlement for %s: %w", product, su.email, err)
			}
		}
	}

	slog.Info("Database seeding completed", "users", len(seedUsers))
	return nil
}
