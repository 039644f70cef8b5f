package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	svc "github.com/krshsl/cascprep/services"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.openRepository(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newSeedCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create demo users and entitlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepository()
			if err != nil {
				return err
			}
			return svc.NewDatabaseSeeder(repo).SeedDatabase(cmd.Context())
		},
	}
}

func newPlansCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List purchasable plans and their configured prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			plans := svc.NewPlanCatalog(a.config.Stripe.Prices).List()
			fmt.Fprintln(cmd.OutOrStdout(), planTable(plans))
			return nil
		},
	}
}

func planTable(plans []svc.Plan) string {
	rows := make([][]string, 0, len(plans))
	for _, p := range plans {
		price := p.PriceID
		if price == "" {
			price = "-"
		}
		rows = append(rows, []string{
			p.ID,
			p.Product,
			strconv.Itoa(p.DurationDays),
			fmt.Sprintf("%.2f %s", float64(p.AmountPence)/100, p.Currency),
			price,
		})
	}
	return renderTable([]string{"Plan", "Product", "Days", "Amount", "Price ID"}, rows, 2, 3)
}

func newEntitlementsCommand(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "entitlements",
		Short: "Show a user's entitlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			repo, err := a.openRepository()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			user, err := repo.GetUserByEmail(ctx, email)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("no user with email %s", email)
			}
			ents, err := repo.ListEntitlements(ctx, user.ID)
			if err != nil {
				return err
			}

			now := time.Now()
			rows := make([][]string, 0, len(ents))
			for _, e := range ents {
				status := "expired"
				if e.Active(now) {
					status = "active"
				}
				rows = append(rows, []string{e.Product, status, e.ExpiresAt.Format(time.RFC3339), e.Source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Product", "Status", "Expires", "Source"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email")
	return cmd
}
