package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	emailPkg "absences/internal/adapters/email"
	web "absences/internal/adapters/http"
	"absences/internal/adapters/http/perf"
	idp "absences/internal/adapters/identity"
	"absences/internal/adapters/storage"
	accountStore "absences/internal/adapters/storage/account"
	tokenStore "absences/internal/adapters/storage/authtoken"
	sessionStore "absences/internal/adapters/storage/devicesession"
	"absences/internal/application/orchestrators"
	"absences/internal/application/shell"
	"absences/internal/config"
	"absences/internal/domain/identity"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// purgeInterval is how often spent and expired one-time tokens are removed.
const purgeInterval = 15 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv); err != nil {
		slog.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, lookup config.Lookup) error {
	cfg, err := config.Load(args, lookup)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg)

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.MigrateDB(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	schema, err := storage.SchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}

	clock := clockwork.NewRealClock()
	collector := perf.NewCollector(perf.DefaultRingSize, clock)
	timedDB := storage.NewTimedDB(db, cfg.HTTP.SlowQuery, collector.ObserveQuery)

	accounts := accountStore.NewSQLiteStore(timedDB)
	if cfg.Admin.Password != "" {
		seedDeps := orchestrators.CreateAccountDeps{AccountStore: accounts}
		if err := orchestrators.ExecuteSeedAdmin(ctx, seedDeps, cfg.Admin.Email, cfg.Admin.Password); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	var sender emailPkg.Sender
	if cfg.Email.ResendKey != "" {
		sender = emailPkg.NewResendSender(cfg.Email.ResendKey, cfg.Email.From, cfg.Email.ReplyTo)
		slog.Info("email_sender", "kind", "resend")
	} else {
		sender = emailPkg.NewNoopSender()
		if cfg.IsProduction() {
			slog.Warn("email_sender", "kind", "noop", "reason", "ABSENCES_RESEND_KEY is not set, recovery email is disabled")
		} else {
			slog.Info("email_sender", "kind", "noop")
		}
	}

	signingKey, generated, err := cfg.SigningKeyBytes()
	if err != nil {
		return err
	}
	if generated {
		slog.Warn("signing_key_generated", "effect", "sessions end when the server restarts")
	}
	csrfKey, generated, err := cfg.CSRFKeyBytes()
	if err != nil {
		return err
	}
	if generated {
		slog.Warn("csrf_key_generated")
	}

	server, err := idp.NewServer(idp.Config{
		SiteURL:           cfg.SiteURL,
		Mode:              identity.DeliveryMode(cfg.Auth.DeliveryMode),
		SigningKey:        signingKey,
		AccessTokenTTL:    cfg.Auth.AccessTokenTTL,
		RecoveryTokenTTL:  cfg.Auth.RecoveryTokenTTL,
		ExchangeCodeTTL:   cfg.Auth.ExchangeCodeTTL,
		ResetInterval:     cfg.Auth.ResetInterval,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		AllowedRedirects:  cfg.Auth.AllowedRedirects,
	}, idp.Deps{
		Accounts: accounts,
		Tokens:   tokenStore.NewSQLiteStore(timedDB),
		Sessions: sessionStore.NewSQLiteStore(timedDB),
		Sender:   sender,
		Clock:    clock,
	})
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}

	mux := web.NewMux(cfg.StaticDir, web.Deps{
		Identity: server,
		Shell: shell.Config{
			Timing: shell.Timing{
				SettleDelay:     cfg.Shell.SettleDelay,
				ErrorScrubDelay: cfg.Shell.ErrorScrubDelay,
			},
			MinPasswordLength: cfg.Auth.MinPasswordLength,
			RedirectTo:        cfg.SiteURL,
		},
		Clock:              clock,
		CSRFKey:            csrfKey,
		SecureCookies:      cfg.IsProduction(),
		RateLimitPerSecond: cfg.HTTP.RateLimitPerSecond,
		TabIdleTimeout:     cfg.Shell.TabIdleTimeout,
		SlowRequest:        cfg.HTTP.SlowRequest,
		Collector:          devCollector(cfg, collector),
	})
	defer mux.Close()

	go purgeTokens(ctx, clock, server)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_starting",
			"version", version,
			"addr", cfg.Addr,
			"env", cfg.Environment,
			"schema", schema,
			"delivery_mode", server.Mode(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogging(cfg config.Config) {
	level := slog.LevelDebug
	var handler slog.Handler
	if cfg.IsProduction() {
		level = slog.LevelInfo
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// devCollector exposes /debug/perf outside production only.
func devCollector(cfg config.Config, c *perf.Collector) *perf.Collector {
	if cfg.IsProduction() {
		return nil
	}
	return c
}

func purgeTokens(ctx context.Context, clock clockwork.Clock, server *idp.Server) {
	ticker := clock.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := server.PurgeExpiredTokens(ctx)
			if err != nil {
				slog.Warn("token_purge_failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("token_purge", "removed", n)
			}
		}
	}
}
