package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fiscalclass/engine/internal/config"
)

func runReloadKBCmd(args []string, stdout, stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()

	svc, err := newServices(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "reload-kb: init services: %v\n", err)
		return 1
	}
	defer svc.metrics.Shutdown(ctx)

	if err := svc.kbLoader.Reload(ctx); err != nil {
		fmt.Fprintf(stderr, "reload-kb: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "reload-kb: knowledge base reloaded")
	return 0
}
