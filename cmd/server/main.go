package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"possale/backend/internal/auth"
	"possale/backend/internal/cache"
	"possale/backend/internal/config"
	"possale/backend/internal/domain"
	"possale/backend/internal/httpapi"
	"possale/backend/internal/report"
	"possale/backend/internal/seed"
	"possale/backend/internal/service"
	"possale/backend/internal/store"
	"possale/backend/internal/store/memory"
	"possale/backend/internal/store/sqlstore"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.WithError(err).Fatal("possale exited")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "possale",
		Usage:  "point-of-sale and inventory backend",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending schema migrations and exit",
				Action: migrateCmd,
			},
			{
				Name:   "seed",
				Usage:  "add default categories, settings, users and the demo catalog",
				Action: seedCmd,
			},
			{
				Name:  "create-user",
				Usage: "create a login",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"NEW_USER_PASSWORD"}},
					&cli.StringFlag{Name: "role", Value: domain.RoleOperator},
					&cli.StringFlag{Name: "full-name"},
				},
				Action: createUserCmd,
			},
		},
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := setupLogging(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	startCtx, cancel := context.WithTimeout(c.Context, 15*time.Second)
	defer cancel()

	repo, closeRepo, err := openRepository(startCtx, cfg)
	if err != nil {
		return err
	}
	closers := []func() error{closeRepo}

	err = seed.Apply(startCtx, repo, seed.Options{
		AdminPassword:    cfg.SeedAdminPassword,
		OperatorPassword: cfg.SeedOperatorPassword,
		DemoCatalog:      cfg.SeedDemoCatalog,
	})
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	reportCache, closeCache := openReportCache(startCtx, cfg)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	manager := auth.NewManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	engine := report.NewEngine(repo, reportCache, time.Duration(cfg.ReportCacheTTLSeconds)*time.Second)
	svc := service.New(repo, manager, service.Options{
		Segments:               cfg.SegmentPolicy(),
		CancelDecrementsVisits: cfg.CancelDecrementsVisits,
		Reports:                engine,
	})
	csrfKey := sha256.Sum256([]byte("csrf:" + cfg.AuthSecret))
	api := httpapi.New(svc, manager, engine, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		CSRFSecret:    csrfKey[:],
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Address()).Info("possale listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.WithField("signal", s.String()).Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}
	log.Info("server stopped")
	return nil
}

func migrateCmd(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StorageDriver == config.DriverMemory {
		return errors.New("the memory driver has no schema to migrate")
	}
	_, closeRepo, err := openRepository(c.Context, cfg)
	if err != nil {
		return err
	}
	log.WithField("driver", cfg.StorageDriver).Info("migrations applied")
	return closeRepo()
}

func seedCmd(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateSeedPasswords(cfg); err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	return seed.Apply(c.Context, repo, seed.Options{
		AdminPassword:    cfg.SeedAdminPassword,
		OperatorPassword: cfg.SeedOperatorPassword,
		DemoCatalog:      true,
	})
}

func createUserCmd(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	manager := auth.NewManager(cfg.AuthSecret, time.Minute, repo)
	user, err := manager.CreateUser(c.Context, domain.UserCreateRequest{
		Username: c.String("username"),
		Password: c.String("password"),
		Role:     c.String("role"),
		FullName: c.String("full-name"),
	})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"username": user.Username, "role": user.Role}).Info("user created")
	return nil
}

func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pg, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and STORAGE_DRIVER=postgres; refusing to start: %w", err)
		}
		log.Info("repository: postgres")
		return pg, pg.Close, nil
	case config.DriverMemory:
		log.Warn("repository: in-memory, data is lost on exit")
		return memory.New(), func() error { return nil }, nil
	default:
		lite, err := sqlstore.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.DatabaseURL, err)
		}
		log.WithField("path", cfg.DatabaseURL).Info("repository: sqlite")
		return lite, lite.Close, nil
	}
}

// openReportCache prefers redis and falls back to a process-local cache when
// redis is not configured or does not answer.
func openReportCache(ctx context.Context, cfg config.Config) (cache.ReportCache, func() error) {
	if cfg.RedisAddr == "" {
		log.Info("report cache: memory")
		return cache.NewMemoryReportCache(), nil
	}
	redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		log.WithError(err).Warn("redis unavailable, using memory report cache")
		_ = redisCache.Close()
		return cache.NewMemoryReportCache(), nil
	}
	log.WithField("addr", cfg.RedisAddr).Info("report cache: redis")
	return redisCache, redisCache.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	return validateSeedPasswords(cfg)
}

// validateSeedPasswords applies the same strength floor as user creation to
// the passwords the default logins are seeded with.
func validateSeedPasswords(cfg config.Config) error {
	for name, password := range map[string]string{
		"SEED_ADMIN_PASSWORD":    cfg.SeedAdminPassword,
		"SEED_OPERATOR_PASSWORD": cfg.SeedOperatorPassword,
	} {
		if password == "" {
			continue
		}
		if len(password) < 6 {
			return fmt.Errorf("%s must be at least 6 characters", name)
		}
		if score, label := auth.PasswordStrength(password); score < auth.StrengthMedium {
			return fmt.Errorf("%s is too weak (%s)", name, label)
		}
	}
	return nil
}
