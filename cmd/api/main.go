package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/accountsvc/internal/api"
	"github.com/punchamoorthee/accountsvc/internal/audit"
	"github.com/punchamoorthee/accountsvc/internal/config"
	"github.com/punchamoorthee/accountsvc/internal/service"
	"github.com/punchamoorthee/accountsvc/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPgStore(ctx, cfg.DBSource)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Layers
	gate := service.NewGate(logger)
	ledger := service.NewLedgerService(logger)
	holds := service.NewHoldService(logger)
	idem := service.NewIdempotencyService(cfg.IdemTTL, logger)
	acls := service.NewACLService(gate, logger)
	emitter := audit.NewLogEmitter(logger)
	engine := service.NewEngine(st, gate, ledger, holds, idem, emitter,
		service.Limits{PerTransaction: cfg.PerTxLimit, Daily: cfg.DailyLimit}, logger)

	handler := api.NewHandler(st, engine, ledger, acls, gate, logger)

	// Periodic sweep of expired idempotency keys.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := idem.DeleteExpired(ctx, st); err != nil {
					logger.Error("idempotency sweep failed", "error", err)
				}
			}
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
