package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	adapthttp "fitledger/internal/adapter/http"
	"fitledger/internal/adapter/wsensor"
	"fitledger/internal/app"
	"fitledger/internal/config"
	"fitledger/internal/domain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the per-user ledger sessions",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out, closeLog := setupLogging(cfg.Log)
	defer closeLog()
	logger := newLogger(out, "main")

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	syncSvc := app.NewSyncService(st.cache, st.mirror, app.SyncOptions{
		Location:      cfg.Location,
		RemoteTimeout: cfg.RemoteTimeout,
		Logger:        newLogger(out, "sync"),
	})
	lifts := app.NewLastLiftIndex(st.cache, st.mirror, cfg.RemoteTimeout, newLogger(out, "lastlift"))
	hub := wsensor.NewHub(newLogger(out, "wsensor"))

	sensorLog := newLogger(out, "sensor")
	ledgerLog := newLogger(out, "ledger")
	registry := app.NewLedgerRegistry(func(userID string) *app.LedgerSession {
		return app.NewLedgerSession(userID, syncSvc, app.SessionOptions{
			Ingestor:         app.NewStepIngestor(hub.SensorFor(userID), st.prefs, sensorLog),
			LastLifts:        lifts,
			RolloverInterval: cfg.RolloverInterval,
			Logger:           ledgerLog,
		})
	})
	defer registry.Close()

	authSvc := app.NewAuthService(st.users, st.sessions).WithLedgers(registry)
	srv := adapthttp.New(registry, app.NewChartsService(syncSvc), authSvc, hub, cfg.Goals).
		WithLogger(newLogger(out, "http"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OIDC.Enabled() {
		oc, err := adapthttp.NewOIDCConfig(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL)
		if err != nil {
			return err
		}
		srv = srv.WithOIDC(oc)
	}
	if cfg.DevUser != "" {
		logger.Printf("authentication disabled, serving every request as %q", cfg.DevUser)
		srv = srv.WithoutAuth(cfg.DevUser)
	}

	go pruneSessions(ctx, st.sessions, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// pruneSessions removes expired sign-in sessions every hour.
func pruneSessions(ctx context.Context, sessions domain.SessionRepository, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessions.DeleteExpired(ctx); err != nil {
				logger.Printf("prune sessions: %v", err)
			}
		}
	}
}
