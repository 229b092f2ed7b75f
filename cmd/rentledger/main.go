package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/alerting"
	"github.com/bher20/rentledger/internal/api"
	"github.com/bher20/rentledger/internal/auth"
	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/config"
	"github.com/bher20/rentledger/internal/jobs"
	"github.com/bher20/rentledger/internal/logging"
	"github.com/bher20/rentledger/internal/migrate"
	"github.com/bher20/rentledger/internal/notification"
	"github.com/bher20/rentledger/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "rentledger",
		Short:        "Rent, water and utility billing for managed properties",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default ./rentledger.yaml)")

	root.AddCommand(newServeCmd(&cfgPath), newMigrateCmd(&cfgPath), newJobsCmd(&cfgPath))
	return root
}

// app holds the wired services shared by the commands.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	store     storage.Storage
	opts      billing.Options
	auth      *auth.Service
	notifier  *notification.Service
	alerter   *alerting.Alerter
	scheduler *jobs.Scheduler
}

func setup(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	fee, err := decimal.NewFromString(cfg.Billing.DefaultGarbageFee)
	if err != nil {
		return nil, fmt.Errorf("billing.default_garbage_fee: %w", err)
	}

	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Database.Driver,
		DSN:         cfg.Database.DSN,
		AutoMigrate: cfg.Database.AutoMigrate,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		store: store,
		opts: billing.Options{
			Workers:           cfg.Billing.Workers,
			DueDay:            cfg.Billing.DueDay,
			DefaultGarbageFee: fee,
		},
		alerter: alerting.NewAlerter(cfg.Alert, log),
	}

	if cfg.Auth.Enabled {
		a.auth, err = auth.NewService(store, log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
		if err := a.auth.EnsureAdmin(ctx, cfg.Auth.AdminPassword); err != nil {
			store.Close()
			return nil, fmt.Errorf("seed admin: %w", err)
		}
	}

	a.notifier = notification.NewService(store, log)
	if err := a.notifier.SeedConfig(ctx, storage.EmailConfig{
		Provider:    cfg.Email.Provider,
		Host:        cfg.Email.Host,
		Port:        cfg.Email.Port,
		Username:    cfg.Email.Username,
		Password:    cfg.Email.Password,
		APIKey:      cfg.Email.APIKey,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Encryption:  cfg.Email.Encryption,
	}); err != nil {
		log.Warn("email config not seeded", zap.Error(err))
	}

	a.scheduler = jobs.NewScheduler(store, jobs.DailyJobs(store, jobs.Services{
		Bills:    billing.NewBillService(store, log, a.opts),
		Leases:   billing.NewLeaseService(store, log),
		Garbage:  billing.NewGarbageService(store, log, a.opts),
		Notifier: a.notifier,
	}), a.alerter, log)
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", zap.Error(err))
	}
	_ = a.log.Sync()
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := os.MkdirAll(a.cfg.Server.TariffDir, 0o755); err != nil {
				return fmt.Errorf("tariff dir: %w", err)
			}
			srv := &http.Server{
				Addr: a.cfg.Server.Addr,
				Handler: api.NewServer(api.Deps{
					Store:     a.store,
					Log:       a.log,
					Options:   a.opts,
					Auth:      a.auth,
					Notifier:  a.notifier,
					Alerter:   a.alerter,
					Scheduler: a.scheduler,
					TariffDir: a.cfg.Server.TariffDir,
				}).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if a.cfg.Jobs.Enabled {
				go func() {
					if err := a.scheduler.Start(ctx, a.cfg.Jobs.DailySchedule); err != nil {
						a.log.Error("scheduler stopped", zap.Error(err))
					}
				}()
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Info("rentledger listening", zap.String("addr", srv.Addr))
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newMigrateCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect database migrations",
	}
	run := func(fn func(ctx context.Context, driver, dsn string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver == "memory" {
				return errors.New("the memory driver has no migrations")
			}
			return fn(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", RunE: run(migrate.Up)},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", RunE: run(migrate.Down)},
		&cobra.Command{Use: "status", Short: "Print migration status", RunE: run(migrate.Status)},
	)
	return cmd
}

func newJobsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run the daily jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the daily jobs in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			for _, name := range a.scheduler.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}, &cobra.Command{
		Use:   "run <name|all>",
		Short: "Run one daily job, or all of them, now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			if args[0] == "all" {
				a.scheduler.RunAll(cmd.Context())
				return nil
			}
			return a.scheduler.Run(cmd.Context(), args[0])
		},
	})
	return cmd
}
