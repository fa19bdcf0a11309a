package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/forumkit/twofa/pkg/config"
	"github.com/forumkit/twofa/pkg/engine"
	"github.com/forumkit/twofa/pkg/engine/api"
	"github.com/forumkit/twofa/pkg/eventlog"
	"github.com/forumkit/twofa/pkg/method"
	"github.com/forumkit/twofa/pkg/method/emailcode"
	"github.com/forumkit/twofa/pkg/method/totp"
	"github.com/forumkit/twofa/pkg/notification"
	"github.com/forumkit/twofa/pkg/sessionstore"
	"github.com/forumkit/twofa/pkg/trust"
	"github.com/forumkit/twofa/pkg/usermethod"
)

type DbConfig struct {
	Host     string `env:"TWOFA_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"TWOFA_PG_PORT" env-default:"5432"`
	Database string `env:"TWOFA_PG_DATABASE" env-default:"twofa_db"`
	User     string `env:"TWOFA_PG_USER" env-default:"twofa"`
	Password string `env:"TWOFA_PG_PASSWORD" env-default:"pwd"`
}

func (d DbConfig) toDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

type EmailConfig struct {
	Host     string `env:"TWOFA_EMAIL_HOST" env-default:"localhost"`
	Port     int    `env:"TWOFA_EMAIL_PORT" env-default:"1025"`
	Username string `env:"TWOFA_EMAIL_USERNAME" env-default:""`
	Password string `env:"TWOFA_EMAIL_PASSWORD" env-default:""`
	From     string `env:"TWOFA_EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"TWOFA_EMAIL_TLS" env-default:"false"`
}

type Config struct {
	Addr            string `env:"TWOFA_ADDR" env-default:":4000"`
	PersistenceType string `env:"TWOFA_PERSISTENCE_TYPE" env-default:"postgres"`
	DbConfig        DbConfig
	EmailConfig     EmailConfig
	Settings        config.Settings
}

// loadEnvFile loads environment variables from a .env file next to the
// executable or in the working directory, without overriding variables that
// are already set.
func loadEnvFile() {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("Failed to get executable path", "err", err)
		return
	}

	envFile := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		cwd, err := os.Getwd()
		if err != nil {
			slog.Error("Failed to get current working directory", "err", err)
			return
		}
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return
	}

	if err := godotenv.Load(envFile); err != nil {
		slog.Error("Failed to load .env file", "err", err, "path", envFile)
		return
	}
	slog.Info("Configuration loaded from .env file", "path", envFile)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	loadEnvFile()

	cfg := Config{}
	cleanenv.ReadEnv(&cfg)
	if err := cfg.Settings.Validate(); err != nil {
		slog.Error("Invalid settings", "err", err)
		os.Exit(-1)
	}

	var pool *pgxpool.Pool
	if cfg.PersistenceType == "postgres" {
		var err error
		pool, err = pgxpool.New(context.Background(), cfg.DbConfig.toDatabaseURL())
		if err != nil {
			slog.Error("Failed to create database pool", "err", err)
			os.Exit(-1)
		}
		defer pool.Close()
	}

	logRepo, err := eventlog.NewRepository(cfg.PersistenceType, eventlog.RepositoryConfig{DB: pool})
	if err != nil {
		slog.Error("Failed to create log repository", "err", err)
		os.Exit(-1)
	}
	trustRepo, err := trust.NewRepository(cfg.PersistenceType, trust.RepositoryConfig{DB: pool})
	if err != nil {
		slog.Error("Failed to create trust repository", "err", err)
		os.Exit(-1)
	}
	sessionRepo, err := sessionstore.NewRepository(cfg.PersistenceType, sessionstore.RepositoryConfig{DB: pool})
	if err != nil {
		slog.Error("Failed to create session repository", "err", err)
		os.Exit(-1)
	}
	userMethodRepo, err := usermethod.NewRepository(cfg.PersistenceType, usermethod.RepositoryConfig{DB: pool})
	if err != nil {
		slog.Error("Failed to create user method repository", "err", err)
		os.Exit(-1)
	}

	mailer, err := notification.NewEmailNotifier(notification.SMTPConfig{
		Host:     cfg.EmailConfig.Host,
		Port:     cfg.EmailConfig.Port,
		TLS:      cfg.EmailConfig.TLS,
		Username: cfg.EmailConfig.Username,
		Password: cfg.EmailConfig.Password,
		From:     cfg.EmailConfig.From,
	})
	if err != nil {
		slog.Error("Failed to create email notifier", "err", err)
		os.Exit(-1)
	}

	base := &method.Base{
		Logs: eventlog.NewService(logRepo,
			eventlog.WithMaxAttempts(cfg.Settings.MaxVerificationAttempts),
			eventlog.WithLockoutWindow(cfg.Settings.LockoutWindow()),
		),
		Trust:       trust.NewService(trustRepo, trust.WithDuration(cfg.Settings.DeviceTrustingDuration())),
		Sessions:    sessionstore.NewService(sessionRepo),
		UserMethods: usermethod.NewService(userMethodRepo),
		Settings:    cfg.Settings,
		Lang:        method.DefaultTranslator(),
	}

	registry, err := method.NewRegistry(
		totp.New(base),
		emailcode.New(base, mailer),
	)
	if err != nil {
		slog.Error("Failed to build method registry", "err", err)
		os.Exit(-1)
	}

	e := engine.New(registry, base)
	e.StartMaintenance(context.Background())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	api.Routes(r, api.NewHandle(e))

	slog.Info("Starting server", "addr", cfg.Addr, "persistence", cfg.PersistenceType)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		slog.Error("Server stopped", "err", err)
		os.Exit(-1)
	}
}
