package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/docbook/booking/internal/config"
	"github.com/docbook/booking/internal/domain/scheduling"
	"github.com/docbook/booking/internal/platform/auth"
	"github.com/docbook/booking/internal/platform/cache"
	"github.com/docbook/booking/internal/platform/db"
	"github.com/docbook/booking/internal/platform/middleware"
	"github.com/docbook/booking/internal/platform/telemetry"
	"github.com/docbook/booking/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "booking-server",
		Short: "Doctor appointment scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(doctorCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func doctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Manage doctor profiles and weekly schedules",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import doctors with their weekly templates from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			doctors, err := decodeDoctors(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.StoreDriverPostgres {
				return fmt.Errorf("doctor import needs STORE_DRIVER=%s", config.StoreDriverPostgres)
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := scheduling.NewService(scheduling.NewDoctorRepoPG(pool), scheduling.NewAppointmentRepoPG(pool), scheduling.Options{
				Logger:       newLogger(cfg.Env),
				StoreTimeout: cfg.StoreTimeout,
			})
			n, err := importDoctors(ctx, svc, doctors)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d doctor(s).\n", n, len(doctors))
			return err
		},
	}
	importCmd.Flags().String("file", "", "Path to a JSON array of doctors")
	cmd.AddCommand(importCmd)
	return cmd
}

// decodeDoctors accepts either a JSON array of doctors or a single doctor.
func decodeDoctors(r io.Reader) ([]*scheduling.Doctor, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var many []*scheduling.Doctor
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one scheduling.Doctor
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []*scheduling.Doctor{&one}, nil
}

// importDoctors stops at the first invalid doctor and reports how many were
// stored before it.
func importDoctors(ctx context.Context, svc *scheduling.Service, doctors []*scheduling.Doctor) (int, error) {
	for i, d := range doctors {
		if err := svc.ImportDoctor(ctx, d); err != nil {
			return i, fmt.Errorf("doctor #%d: %w", i+1, err)
		}
	}
	return len(doctors), nil
}

// backend is the store the server runs against.
type backend struct {
	doctors      scheduling.DoctorRepository
	appointments scheduling.AppointmentRepository
	pinger       db.Pinger
	pool         *pgxpool.Pool
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		store := scheduling.NewMemoryStore()
		return &backend{
			doctors:      store.Doctors(),
			appointments: store.Appointments(),
			pinger:       store,
		}, func() {}, nil
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Msg("connected to database")
	return &backend{
		doctors:      scheduling.NewDoctorRepoPG(pool),
		appointments: scheduling.NewAppointmentRepoPG(pool),
		pinger:       pool,
		pool:         pool,
	}, pool.Close, nil
}

// openSlotCache prefers Redis. A process-local cache is only coherent with
// the in-memory store; with Postgres and no Redis, reads go to the store.
func openSlotCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (scheduling.SlotCache, func()) {
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.AvailabilityCacheTTL)
		if err == nil {
			logger.Info().Msg("connected to redis")
			return rc, func() { rc.Close() }
		}
		logger.Warn().Err(err).Msg("redis unavailable")
	}
	if cfg.StoreDriver == config.StoreDriverMemory {
		return cache.NewMemory(cfg.AvailabilityCacheTTL), func() {}
	}
	logger.Info().Msg("slot cache disabled, availability reads go to the store")
	return nil, func() {}
}

func newMetrics(be *backend) *telemetry.Metrics {
	m := telemetry.New()
	if be.pool != nil {
		pool := be.pool
		m.WithPoolStats(func() (int32, int32, int32) {
			st := pool.Stat()
			return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
		})
	}
	return m
}

// newServer assembles the HTTP stack around an already built service.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *scheduling.Service, be *backend, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(be.pinger, be.pool))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	scheduling.NewHandler(svc, logger).RegisterRoutes(apiV1)
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	loc, _ := cfg.Location()

	ctx := context.Background()
	be, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	slotCache, closeCache := openSlotCache(ctx, cfg, logger)
	defer closeCache()

	metrics := newMetrics(be)
	svc := scheduling.NewService(be.doctors, be.appointments, scheduling.Options{
		Location:     loc,
		Cache:        slotCache,
		Logger:       logger.With().Str("component", "scheduling").Logger(),
		StoreTimeout: cfg.StoreTimeout,
		Observer:     metrics,
	})
	e := newServer(cfg, logger, svc, be, metrics)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
