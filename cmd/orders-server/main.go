package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"orderdash/internal/app"
	"orderdash/internal/config"
	"orderdash/internal/handlers"
	"orderdash/internal/httpserver"
)

func main() {
	logger := config.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	config.SetLogLevel(cfg.LogLevel)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	a, err := app.Build(sigCtx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("wire orderdash")
	}
	defer a.Close()

	mux := httpserver.NewMux(a.Router.Handle, []string{
		handlers.PathOrders,
		handlers.PathSync,
		handlers.PathSessions,
		handlers.PathAnalytics,
		handlers.PathUninstalled,
		handlers.PathHealth,
	})

	addr := ":" + cfg.Port
	logger.WithField("addr", addr).Info("orders-server listening")
	// Sync requests hold the connection for the whole run.
	if err := httpserver.Serve(sigCtx, addr, mux, cfg.SyncTimeout+cfg.SyncPageTimeout); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
	logger.Info("orders-server stopped")
}
