package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/krshsl/cascprep/repository"
	svc "github.com/krshsl/cascprep/services"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// app is shared state for subcommands, filled in by the root pre-run hook.
type app struct {
	config *svc.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "cascprep",
		Short:         "CASC exam preparation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.config = svc.LoadConfig()
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: svc.ParseLogLevel(a.config.Log.Level),
			}))
			slog.SetDefault(logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newMigrateCommand(a))
	rootCmd.AddCommand(newSeedCommand(a))
	rootCmd.AddCommand(newPlansCommand(a))
	rootCmd.AddCommand(newEntitlementsCommand(a))
	return rootCmd
}

// openRepository connects to the database and migrates the schema.
func (a *app) openRepository() (*repository.GORMRepository, error) {
	cfg := a.config.Database
	db, err := repository.OpenDatabase(repository.DatabaseOptions{
		Driver:       cfg.Driver,
		URL:          cfg.URL,
		LogLevel:     cfg.LogLevel,
		MaxIdleConns: cfg.MaxIdleConns,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	repo := repository.NewGORMRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("Connected to database", "driver", cfg.Driver)
	return repo, nil
}

func (a *app) serve(ctx context.Context) error {
	repo, err := a.openRepository()
	if err != nil {
		return err
	}

	if a.config.Database.Seed {
		if err := svc.NewDatabaseSeeder(repo).SeedDatabase(ctx); err != nil {
			slog.Error("Failed to seed database", "error", err)
		}
	}

	server := svc.NewServer(a.config)
	server.SetDatabase(repo)

	if addr := a.config.Redis.Addr; addr != "" {
		rdb, err := repository.DialRedis(ctx, addr, a.config.Redis.Password, a.config.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		server.SetRunStore(repository.NewRedisRunStore(rdb, a.config.Redis.RunTTL), rdb)
		slog.Info("Exam runs stored in Redis", "addr", addr)
	}

	if err := server.InitializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	return server.Start(ctx)
}
