package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hospital-patient-access/internal/adapters/auth/jwtverifier"
	pg "hospital-patient-access/internal/adapters/storage/postgres"
	"hospital-patient-access/internal/config"
	"hospital-patient-access/internal/jobs"
	"hospital-patient-access/internal/middleware"
	"hospital-patient-access/internal/platform/httpclient"
	"hospital-patient-access/internal/platform/logger"
	"hospital-patient-access/internal/platform/mail"
	"hospital-patient-access/internal/platform/ratelimit"
	"hospital-patient-access/internal/ports/auth"
	"hospital-patient-access/internal/router"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	// .env es opcional; las variables del entorno tienen prioridad
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "api",
		Short:        "Hospital patient access API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(expireAccessCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (and the expiry sweeper when SWEEP_SCHEDULE is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requireDB(cfg, "migrate"); err != nil {
				return err
			}

			db, err := pg.Open(cfg.DBDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := pg.Migrate(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("migrations applied", map[string]any{"count": n})
			return nil
		},
	}
}

// expireAccessCmd corre el sweep una vez; con --schedule queda corriendo como worker.
func expireAccessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire-access",
		Short: "Expire shared access grants past their window and stale pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, _ := cmd.Flags().GetString("schedule")

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			// sin DB el sweep correría sobre un store in-memory vacío
			if err := requireDB(cfg, "expire-access"); err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			app := router.New(router.Options{
				DB:         db,
				Logger:     log,
				Mailer:     newMailer(cfg, log),
				PendingTTL: cfg.PendingRequestTTL(),
			})
			sweeper := jobs.NewSweeper(app.Access, log)

			if schedule == "" {
				rep, err := sweeper.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				log.Info("expire-access done", map[string]any{
					"grants_expired":   rep.GrantsExpired,
					"requests_expired": rep.RequestsExpired,
				})
				return nil
			}

			if err := sweeper.Start(schedule); err != nil {
				return err
			}
			waitForSignal()
			<-sweeper.Stop().Done()
			return nil
		},
	}
	cmd.Flags().String("schedule", "", "Cron schedule (e.g. \"@every 5m\"); empty runs once and exits")
	return cmd
}

func runServer() error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// interfaces en nil (no punteros tipados en nil) cuando no hay Redis o JWT
	var limiter middleware.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed; the limiter fails open until it recovers", map[string]any{"err": err})
		}
		limiter = ratelimit.NewTokenBucket(rdb, "verify-code", cfg.VerifyRatePerMinute, cfg.VerifyBurst)
	}

	var verifier auth.AuthVerifier
	if cfg.JWTSecret != "" {
		verifier = jwtverifier.New(cfg.JWTSecret, cfg.JWTIssuer)
	} else {
		log.Warn("JWT_SECRET not set: dev auth headers enabled", nil)
	}

	app := router.New(router.Options{
		AuthVerifier: verifier,
		DB:           db,
		Logger:       log,
		Mailer:       newMailer(cfg, log),
		Limiter:      limiter,
		PendingTTL:   cfg.PendingRequestTTL(),
	})

	sweeper, err := startSweeper(cfg, app.Access, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", map[string]any{"addr": srv.Addr, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		stopSweeper(sweeper)
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Info("shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	stopSweeper(sweeper)
	log.Info("server stopped", nil)
	return nil
}

func requireDB(cfg *config.Config, command string) error {
	if cfg.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required to run %s", command)
	}
	return nil
}

// startSweeper devuelve nil si SWEEP_SCHEDULE está vacío: el sweep queda a cargo de expire-access.
func startSweeper(cfg *config.Config, exp jobs.Expirer, log logger.Logger) (*jobs.Sweeper, error) {
	if !cfg.SweepInProcess() {
		log.Info("in-process sweep disabled; run expire-access to expire grants", nil)
		return nil, nil
	}
	sweeper := jobs.NewSweeper(exp, log)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		return nil, err
	}
	return sweeper, nil
}

func stopSweeper(s *jobs.Sweeper) {
	if s == nil {
		return
	}
	<-s.Stop().Done()
}

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
	})
	return cfg, log, nil
}

// openDB devuelve nil sin DB_DSN: el router usa storage in-memory.
func openDB(ctx context.Context, cfg *config.Config, log logger.Logger) (*sql.DB, error) {
	if cfg.DBDSN == "" {
		log.Warn("DB_DSN not set: using in-memory storage", nil)
		return nil, nil
	}
	db, err := pg.Open(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	n, err := pg.Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if n > 0 {
		log.Info("migrations applied", map[string]any{"count": n})
	}
	return db, nil
}

func newMailer(cfg *config.Config, log logger.Logger) mail.Sender {
	if cfg.MailRelayURL == "" {
		return mail.NewLogSender(log)
	}
	headers := map[string]string{}
	if cfg.MailRelayAPIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.MailRelayAPIKey
	}
	client, err := httpclient.New(httpclient.Options{BaseURL: cfg.MailRelayURL, Headers: headers})
	if err != nil {
		log.Error("invalid MAIL_RELAY_URL, falling back to log sender", map[string]any{"err": err})
		return mail.NewLogSender(log)
	}
	return mail.NewRelaySender(client, cfg.MailFrom)
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
