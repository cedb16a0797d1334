package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiscalclass/engine/internal/config"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()

	svc, err := newServices(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "serve: init services: %v\n", err)
		return 1
	}
	defer svc.metrics.Shutdown(ctx)

	srv := svc.httpServer()
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		fmt.Fprintf(stdout, "fiscalclass-classifier: listening on :%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintln(stdout, "fiscalclass-classifier: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "serve: shutdown: %v\n", err)
		return 1
	}
	return 0
}
